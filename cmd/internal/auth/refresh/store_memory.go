package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
//
// It is correct for a single process only. One mutex guards both indexes so
// a reader never observes a record mid-rotation.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Record
	byDigest map[string]string // digest -> id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Record),
		byDigest: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(rec)
}

func (s *MemoryStore) insertLocked(rec Record) error {
	if _, ok := s.byID[rec.ID]; ok {
		return fmt.Errorf("%w: id %s", errDuplicate, rec.ID)
	}
	if _, ok := s.byDigest[rec.TokenDigest]; ok {
		return fmt.Errorf("%w: digest", errDuplicate)
	}

	r := rec
	s.byID[rec.ID] = &r
	s.byDigest[rec.TokenDigest] = rec.ID
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) GetByDigest(ctx context.Context, digest string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) Rotate(ctx context.Context, digest string, next Record, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return Record{}, ErrNotFound
	}
	cur := s.byID[id]
	prev := *cur

	if err := checkRotatable(prev, now); err != nil {
		return Record{}, err
	}

	next.SubjectID = prev.SubjectID
	if err := s.insertLocked(next); err != nil {
		return Record{}, err
	}

	*cur = applyRotation(prev, next.ID, now)
	return prev, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok || r.Revoked {
		return false, nil
	}
	r.Revoked = true
	r.RevokedAt = now
	r.RevocationReason = reason
	return true, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
