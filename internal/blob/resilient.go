package blob

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"

	"chunkledger/internal/config"
	"chunkledger/internal/logging"
)

// ResilientStore wraps a Store with retries and a circuit breaker. Missing
// objects and unsupported operations are answers, not failures: they are
// neither retried nor counted against the breaker.
type ResilientStore struct {
	inner    Store
	breaker  *gobreaker.CircuitBreaker[any]
	attempts uint
	delay    time.Duration
}

// NewResilient decorates inner using the resilience configuration section.
func NewResilient(inner Store, cfg config.ResilienceConfig) *ResilientStore {
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	threshold := cfg.BreakerFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "blob-" + string(inner.Driver()),
		MaxRequests: cfg.BreakerHalfOpen,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isAnswer(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("object store circuit breaker changed state")
		},
	}
	return &ResilientStore{
		inner:    inner,
		breaker:  gobreaker.NewCircuitBreaker[any](settings),
		attempts: attempts,
		delay:    cfg.RetryDelay,
	}
}

func isAnswer(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupported) || errors.Is(err, context.Canceled)
}

// do runs fn through the breaker with retries; the last error is returned unwrapped.
func (r *ResilientStore) do(ctx context.Context, fn func() (any, error)) (any, error) {
	var out any
	err := retry.Do(
		func() error {
			v, err := r.breaker.Execute(fn)
			if err != nil {
				return err
			}
			out = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !isAnswer(err) && !errors.Is(err, gobreaker.ErrOpenState)
		}),
	)
	return out, err
}

// State reports the breaker state, e.g. "closed" or "open".
func (r *ResilientStore) State() string { return r.breaker.State().String() }

func (r *ResilientStore) Driver() Driver { return r.inner.Driver() }

// Put buffers the body so every attempt sends the full content.
func (r *ResilientStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (Info, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Info{}, err
	}
	v, err := r.do(ctx, func() (any, error) {
		return r.inner.Put(ctx, key, bytes.NewReader(data), opts)
	})
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

type getResult struct {
	info Info
	body io.ReadCloser
}

func (r *ResilientStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	v, err := r.do(ctx, func() (any, error) {
		info, rc, err := r.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return getResult{info: info, body: rc}, nil
	})
	if err != nil {
		return Info{}, nil, err
	}
	res := v.(getResult)
	return res.info, res.body, nil
}

func (r *ResilientStore) Head(ctx context.Context, key string) (Info, error) {
	v, err := r.do(ctx, func() (any, error) { return r.inner.Head(ctx, key) })
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

func (r *ResilientStore) Delete(ctx context.Context, key string) (bool, error) {
	v, err := r.do(ctx, func() (any, error) { return r.inner.Delete(ctx, key) })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *ResilientStore) List(ctx context.Context, prefix string) ([]Info, error) {
	v, err := r.do(ctx, func() (any, error) { return r.inner.List(ctx, prefix) })
	if err != nil {
		return nil, err
	}
	return v.([]Info), nil
}

func (r *ResilientStore) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	return r.inner.PresignURL(ctx, key, opts)
}
