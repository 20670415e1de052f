// Package memory keeps parked snapshots in process memory.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"graphcore/internal/blob/core"
)

type entry struct {
	info core.Info
	data []byte
}

// Store implements core.Store backed by a map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]entry), now: func() time.Time { return time.Now().UTC() }}
}

// Driver reports core.DriverMemory.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores the content of r under key, replacing any previous snapshot.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read snapshot %s: %w", k, err)
	}
	sum := sha256.Sum256(b)
	info := core.Info{
		Key:          k,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.now(),
	}
	s.mu.Lock()
	s.entries[k] = entry{info: info, data: b}
	s.mu.Unlock()
	return copyInfo(info), nil
}

// Get returns the snapshot stored under key.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return copyInfo(e.info), io.NopCloser(bytes.NewReader(bytes.Clone(e.data))), nil
}

// Head returns the snapshot's metadata.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return copyInfo(e.info), nil
}

// Delete removes the snapshot, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[k]
	delete(s.entries, k)
	return ok, nil
}

// List returns the snapshots whose key starts with prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.entries))
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(e.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) lookup(key string) (entry, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return entry{}, err
	}
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("snapshot %s: %w", k, core.ErrNotFound)
	}
	return e, nil
}

func copyInfo(in core.Info) core.Info {
	in.Metadata = core.CloneMetadata(in.Metadata)
	return in
}
