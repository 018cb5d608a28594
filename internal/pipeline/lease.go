package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chunkledger/pkg/ledger"
)

// ErrLeaseLost is the cancellation cause of a pass whose run lock was taken over.
var ErrLeaseLost = errors.New("run lock lease lost")

// lease is a held run lock kept alive by a background renewer.
type lease struct {
	store  ledger.RunLock
	holder string
	ttl    time.Duration
	log    zerolog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	relOnce  sync.Once
	relErr   error
}

func acquireLease(ctx context.Context, store ledger.RunLock, holder string, ttl time.Duration, log zerolog.Logger) (*lease, error) {
	info, err := store.AcquireLock(ctx, holder, ttl)
	if err != nil {
		return nil, err
	}
	log.Info().Str("holder", holder).Time("expires_at", info.ExpiresAt).Msg("run lock acquired")
	return &lease{
		store:  store,
		holder: holder,
		ttl:    ttl,
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// keepAlive renews the lease every ttl/3 until release. Losing the lease
// cancels the pass with ErrLeaseLost.
func (l *lease) keepAlive(ctx context.Context, cancel context.CancelCauseFunc) {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := l.store.RenewLock(ctx, l.holder, l.ttl)
				if errors.Is(err, ledger.ErrLockNotHeld) {
					l.log.Error().Str("holder", l.holder).Msg("run lock lease lost")
					cancel(ErrLeaseLost)
					return
				}
				if err != nil {
					l.log.Warn().Err(err).Msg("run lock renewal failed")
					continue
				}
				l.log.Debug().Time("expires_at", info.ExpiresAt).Msg("run lock renewed")
			}
		}
	}()
}

func (l *lease) stopRenewer() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// release stops the renewer and deletes the lock row. It runs at most once.
func (l *lease) release(ctx context.Context) error {
	l.relOnce.Do(func() {
		l.stopRenewer()
		select {
		case <-l.done:
		case <-time.After(l.ttl):
		}
		l.relErr = l.store.ReleaseLock(ctx, l.holder)
		if l.relErr == nil {
			l.log.Info().Str("holder", l.holder).Msg("run lock released")
		}
	})
	return l.relErr
}
