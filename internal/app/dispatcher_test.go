package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prayerflow/internal/entity"
	"prayerflow/pkg/nolog"
)

type countingProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
	at    []time.Time
}

func (p *countingProcessor) ProcessDue(_ context.Context, now time.Time) (*entity.ProcessingStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.at = append(p.at, now)
	if p.err != nil {
		return nil, p.err
	}
	return &entity.ProcessingStats{Claimed: 1, Sent: 1}, nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestDispatcher_Tick(t *testing.T) {
	svc := &countingProcessor{}
	d := NewDispatcher(svc, time.Minute, nolog.New())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Sent != 1 || svc.at[0] != fixed {
		t.Errorf("stats = %+v, at = %v", stats, svc.at)
	}

	svc.err = errors.New("db down")
	if _, err = d.Tick(context.Background()); !errors.Is(err, svc.err) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestDispatcher_RunKeepsGoingAfterFailure(t *testing.T) {
	svc := &countingProcessor{err: errors.New("db down")}
	d := NewDispatcher(svc, 5*time.Millisecond, nolog.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for svc.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks", svc.count())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestMigrateURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@db:5432/prayer?sslmode=disable", "pgx5://u:p@db:5432/prayer?sslmode=disable"},
		{"postgresql://u@db/prayer", "pgx5://u@db/prayer"},
		{"pgx5://u@db/prayer", "pgx5://u@db/prayer"},
	}
	for _, tt := range tests {
		if got := migrateURL(tt.in); got != tt.want {
			t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
