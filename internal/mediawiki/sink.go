package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/artifact"
)

// Mutation is a write that a dry-run client recorded instead of sending.
type Mutation struct {
	Platform string    `json:"platform"`
	Action   string    `json:"action"`
	Params   Params    `json:"params"`
	At       time.Time `json:"at"`
}

// Sink receives mutations from clients in dry-run mode.
type Sink interface {
	Record(ctx context.Context, m Mutation) error
}

// MemorySink keeps mutations in memory.
type MemorySink struct {
	mu    sync.Mutex
	items []Mutation
}

func (s *MemorySink) Record(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, m)
	return nil
}

// Mutations returns a copy of everything recorded so far, in order.
func (s *MemorySink) Mutations() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mutation, len(s.items))
	copy(out, s.items)
	return out
}

// JournalSink writes each mutation as its own JSON object under Prefix.
type JournalSink struct {
	Store  artifact.Store
	Prefix string

	mu  sync.Mutex
	seq int
}

func (s *JournalSink) Record(ctx context.Context, m Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}
	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("%s/%04d-%s-%s.json", s.Prefix, s.seq, m.Platform, m.Action)
	s.mu.Unlock()
	if _, err := s.Store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("journal mutation: %w", err)
	}
	return nil
}

// TeeSink forwards every mutation to each sink in turn.
type TeeSink []Sink

func (t TeeSink) Record(ctx context.Context, m Mutation) error {
	for _, s := range t {
		if err := s.Record(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
