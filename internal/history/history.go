// Package history keeps a record of finished deployments.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/session"
)

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("deployment record not found")

// Record describes one deployment attempt.
type Record struct {
	// ID is the deploy ID, or the site ID when no deploy was opened.
	ID          string               `json:"id"`
	SiteID      string               `json:"site_id"`
	SiteName    string               `json:"site_name"`
	DeployID    string               `json:"deploy_id,omitempty"`
	URL         string               `json:"url,omitempty"`
	Status      session.Status       `json:"status"`
	Files       int                  `json:"files"`
	Required    int                  `json:"required"`
	Uploaded    int                  `json:"uploaded"`
	Bytes       int64                `json:"bytes"`
	ErrorCode   string               `json:"error_code,omitempty"`
	Error       string               `json:"error,omitempty"`
	Transitions []session.Transition `json:"transitions"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// Store persists deployment records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// MemoryStore is an in-process Store holding at most a fixed number of
// records.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	max     int
}

// NewMemoryStore creates a store that keeps the newest max records.
func NewMemoryStore(max int) *MemoryStore {
	if max < 1 {
		max = 1000
	}
	return &MemoryStore{records: make(map[string]Record), max: max}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	for len(s.order) > s.max {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
