package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
)

// Memory keeps records in process. Callers always receive copies.
type Memory struct {
	mu      sync.RWMutex
	records map[transfer.ID]*transfer.Record
	now     func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		records: make(map[transfer.ID]*transfer.Record),
		now:     time.Now,
	}
}

func (m *Memory) Create(_ context.Context, rec *transfer.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrRecordExists
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id transfer.ID) (*transfer.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Transition(_ context.Context, id transfer.ID, to transfer.State, u transfer.Update) (*transfer.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	next := rec.Clone()
	if err := next.Apply(to, u, m.now()); err != nil {
		return nil, err
	}
	m.records[id] = next
	storeLog.Debug().Str("id", id.String()).Str("state", string(to)).Msg("Record transitioned")
	return next.Clone(), nil
}

func (m *Memory) ListByState(_ context.Context, states ...transfer.State) ([]*transfer.Record, error) {
	want := make(map[transfer.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	m.mu.RLock()
	out := make([]*transfer.Record, 0)
	for _, rec := range m.records {
		if want[rec.State] {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
