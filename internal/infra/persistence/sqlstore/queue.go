package sqlstore

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"chunkledger/internal/datatype"
	"chunkledger/pkg/ledger"
)

type workItemRow struct {
	ID            int64  `db:"id"`
	Key           string `db:"s3_file_path"`
	StudyID       string `db:"study_id"`
	ParticipantID string `db:"participant_id"`
	Deleted       bool   `db:"deleted"`
	CreatedAt     int64  `db:"created_at"`
}

func (r workItemRow) toDomain() ledger.WorkItem {
	return ledger.WorkItem{
		ID:            r.ID,
		Key:           r.Key,
		StudyID:       r.StudyID,
		ParticipantID: r.ParticipantID,
		Deleted:       r.Deleted,
		CreatedAt:     fromUnix(r.CreatedAt),
	}
}

type participantRow struct {
	StudyID       string `db:"study_id"`
	ParticipantID string `db:"participant_id"`
}

func pending(participantID string) goqu.Ex {
	return goqu.Ex{"participant_id": participantID, "deleted": false}
}

// Enqueue inserts the work item and its history row in one transaction.
func (s *Store) Enqueue(ctx context.Context, key, studyID, participantID string, dt datatype.Type) (bool, error) {
	var added bool
	err := s.withTx(ctx, func(tx *goqu.TxDatabase) error {
		now := s.unixNow()
		res, err := tx.Insert(filesTable).
			Rows(goqu.Record{
				"s3_file_path":   key,
				"study_id":       studyID,
				"participant_id": participantID,
				"deleted":        false,
				"created_at":     now,
			}).
			OnConflict(goqu.DoNothing()).
			Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "enqueue %s", key)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		added = n > 0
		_, err = tx.Insert(historyTable).
			Rows(goqu.Record{
				"s3_file_path":   key,
				"study_id":       studyID,
				"participant_id": participantID,
				"data_type":      string(dt),
				"created_at":     now,
			}).
			OnConflict(goqu.DoNothing()).
			Prepared(true).Executor().ExecContext(ctx)
		return errors.Wrapf(err, "record history %s", key)
	})
	return added, err
}

// ListPending returns up to pageSize non-deleted items for a participant in insertion order.
func (s *Store) ListPending(ctx context.Context, participantID string, pageSize, offset int) ([]ledger.WorkItem, error) {
	if pageSize <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []workItemRow
	err := s.gdb.From(filesTable).
		Where(pending(participantID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(pageSize)).
		Offset(uint(offset)).
		Prepared(true).ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.Wrapf(err, "list pending for %s", participantID)
	}
	items := make([]ledger.WorkItem, len(rows))
	for i, r := range rows {
		items[i] = r.toDomain()
	}
	return items, nil
}

func (s *Store) CountPending(ctx context.Context, participantID string) (int, error) {
	n, err := s.gdb.From(filesTable).Where(pending(participantID)).Prepared(true).CountContext(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "count pending for %s", participantID)
	}
	return int(n), nil
}

// ParticipantsWithPending lists participants with queued uploads, ordered by study then participant.
func (s *Store) ParticipantsWithPending(ctx context.Context) ([]ledger.Participant, error) {
	var rows []participantRow
	err := s.gdb.From(filesTable).
		Select("study_id", "participant_id").
		Distinct().
		Where(goqu.Ex{"deleted": false}).
		Order(goqu.C("study_id").Asc(), goqu.C("participant_id").Asc()).
		Prepared(true).ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "list participants with pending uploads")
	}
	out := make([]ledger.Participant, len(rows))
	for i, r := range rows {
		out[i] = ledger.Participant{StudyID: r.StudyID, ParticipantID: r.ParticipantID}
	}
	return out, nil
}

// RemoveWorkItems deletes ids in batches of the configured size.
func (s *Store) RemoveWorkItems(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += s.removeBatchSize {
		end := start + s.removeBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		_, err := s.gdb.Delete(filesTable).
			Where(goqu.C("id").In(ids[start:end])).
			Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "remove %d work items", end-start)
		}
	}
	return nil
}

func (s *Store) IsQueued(ctx context.Context, key string) (bool, error) {
	n, err := s.gdb.From(filesTable).Where(goqu.Ex{"s3_file_path": key}).Prepared(true).CountContext(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "check queue for %s", key)
	}
	return n > 0, nil
}
