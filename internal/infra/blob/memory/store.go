// Package memory implements an in-memory blob Store for tests, with fault
// injection for exercising partial failures of a pass.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"chunkledger/internal/blob/core"
)

// Operation names accepted by FailOn.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"
)

type object struct {
	info core.Info
	data []byte
}

type fault struct {
	op     string
	prefix string
	err    error
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu     sync.RWMutex
	objs   map[string]object
	faults []fault
}

// New returns an empty in-memory blob store.
func New() *Store { return &Store{objs: make(map[string]object)} }

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// FailOn makes op fail with err for every key under prefix. A nil err
// clears the fault for that op and prefix.
func (s *Store) FailOn(op, prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.faults[:0]
	for _, f := range s.faults {
		if f.op != op || f.prefix != prefix {
			kept = append(kept, f)
		}
	}
	s.faults = kept
	if err != nil {
		s.faults = append(s.faults, fault{op: op, prefix: prefix, err: err})
	}
}

func (s *Store) injected(op, key string) error {
	for _, f := range s.faults {
		if f.op == op && strings.HasPrefix(key, f.prefix) {
			return errors.Wrapf(f.err, "%s %s", op, key)
		}
	}
	return nil
}

// Put stores a copy of the content, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, errors.New("empty key")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, errors.Wrapf(err, "put %s", key)
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	hash := core.ContentHash(b)
	info := core.Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		ETag:         hash,
		ContentHash:  hash,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpPut, key); err != nil {
		return core.Info{}, err
	}
	s.objs[key] = object{info: info, data: b}
	return copyInfo(info), nil
}

// Get returns blob metadata and a reader over a copy of its content.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(OpGet, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	data := append([]byte(nil), obj.data...)
	return copyInfo(obj.info), io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(OpHead, key)
	if err != nil {
		return core.Info{}, err
	}
	return copyInfo(obj.info), nil
}

func (s *Store) lookup(op, key string) (object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected(op, key); err != nil {
		return object{}, err
	}
	obj, ok := s.objs[key]
	if !ok {
		return object{}, errors.Wrapf(core.ErrNotFound, "blob %s", key)
	}
	return obj, nil
}

// Delete removes the blob, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpDelete, key); err != nil {
		return false, err
	}
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

// List returns all blobs under prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected(OpList, prefix); err != nil {
		return nil, err
	}
	out := make([]core.Info, 0, len(s.objs))
	for k, v := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(v.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL is not available without a server.
func (s *Store) PresignURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func copyInfo(in core.Info) core.Info {
	in.Metadata = cloneMetadata(in.Metadata)
	return in
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
