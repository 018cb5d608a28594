package sqlstore

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"chunkledger/pkg/ledger"
)

// lockID is the primary key of the singleton lease row.
const lockID = 1

type lockRow struct {
	Holder     string `db:"holder"`
	AcquiredAt int64  `db:"acquired_at"`
	ExpiresAt  int64  `db:"expires_at"`
}

func (r lockRow) toDomain() ledger.LockInfo {
	return ledger.LockInfo{Holder: r.Holder, AcquiredAt: fromUnix(r.AcquiredAt), ExpiresAt: fromUnix(r.ExpiresAt)}
}

func expiry(now time.Time, ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return now.Unix() + secs
}

// AcquireLock reclaims an expired lease, then inserts the singleton row.
// The insert is a no-op when another holder's lease is live.
func (s *Store) AcquireLock(ctx context.Context, holder string, ttl time.Duration) (ledger.LockInfo, error) {
	now := s.now().UTC()
	_, err := s.gdb.Delete(lockTable).
		Where(goqu.Ex{"id": lockID}, goqu.C("expires_at").Lte(now.Unix())).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return ledger.LockInfo{}, errors.Wrap(err, "reclaim expired run lock")
	}
	row := lockRow{Holder: holder, AcquiredAt: now.Unix(), ExpiresAt: expiry(now, ttl)}
	res, err := s.gdb.Insert(lockTable).
		Rows(goqu.Record{"id": lockID, "holder": row.Holder, "acquired_at": row.AcquiredAt, "expires_at": row.ExpiresAt}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return ledger.LockInfo{}, errors.Wrap(err, "acquire run lock")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return ledger.LockInfo{}, err
	}
	if n == 0 {
		current, held, err := s.LockStatus(ctx)
		if err != nil {
			return ledger.LockInfo{}, err
		}
		if !held {
			return ledger.LockInfo{}, &ledger.ProcessingOverlapError{}
		}
		return ledger.LockInfo{}, &ledger.ProcessingOverlapError{Holder: current.Holder, ExpiresAt: current.ExpiresAt}
	}
	return row.toDomain(), nil
}

// RenewLock extends a lease still owned by holder.
func (s *Store) RenewLock(ctx context.Context, holder string, ttl time.Duration) (ledger.LockInfo, error) {
	now := s.now().UTC()
	expires := expiry(now, ttl)
	res, err := s.gdb.Update(lockTable).
		Set(goqu.Record{"expires_at": expires}).
		Where(goqu.Ex{"id": lockID, "holder": holder}).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return ledger.LockInfo{}, errors.Wrap(err, "renew run lock")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return ledger.LockInfo{}, err
	}
	if n == 0 {
		return ledger.LockInfo{}, errors.Wrapf(ledger.ErrLockNotHeld, "renew by %s", holder)
	}
	info, _, err := s.LockStatus(ctx)
	return info, err
}

// ReleaseLock deletes the lease if holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, holder string) error {
	res, err := s.gdb.Delete(lockTable).
		Where(goqu.Ex{"id": lockID, "holder": holder}).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "release run lock")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ledger.ErrLockNotHeld, "release by %s", holder)
	}
	return nil
}

func (s *Store) ForceReleaseLock(ctx context.Context) (bool, error) {
	res, err := s.gdb.Delete(lockTable).Where(goqu.Ex{"id": lockID}).Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return false, errors.Wrap(err, "force release run lock")
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// LockStatus returns the current lease, expired or not.
func (s *Store) LockStatus(ctx context.Context) (ledger.LockInfo, bool, error) {
	var row lockRow
	found, err := s.gdb.From(lockTable).Where(goqu.Ex{"id": lockID}).Prepared(true).ScanStructContext(ctx, &row)
	if err != nil {
		return ledger.LockInfo{}, false, errors.Wrap(err, "read run lock")
	}
	if !found {
		return ledger.LockInfo{}, false, nil
	}
	return row.toDomain(), true, nil
}
