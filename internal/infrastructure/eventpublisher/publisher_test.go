package eventpublisher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubRepublisher struct {
	calls atomic.Int32
	err   error
}

func (r *stubRepublisher) Sweep(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

type stubPruner struct {
	calls     atomic.Int32
	olderThan atomic.Int64
}

func (p *stubPruner) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.calls.Add(1)
	p.olderThan.Store(int64(olderThan))
	return 3, nil
}

func runFor(t *testing.T, s *Sweeper, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(d)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeperRepublishesOnStartAndTick(t *testing.T) {
	rep := &stubRepublisher{}
	s := NewSweeper(Config{Republisher: rep, Logger: zerolog.Nop(), Interval: 10 * time.Millisecond})

	runFor(t, s, 55*time.Millisecond)

	if got := rep.calls.Load(); got < 2 {
		t.Fatalf("expected repeated sweeps, got %d", got)
	}
}

func TestSweeperKeepsRunningAfterSweepError(t *testing.T) {
	rep := &stubRepublisher{err: errors.New("store unavailable")}
	s := NewSweeper(Config{Republisher: rep, Logger: zerolog.Nop(), Interval: 10 * time.Millisecond})

	runFor(t, s, 45*time.Millisecond)

	if got := rep.calls.Load(); got < 2 {
		t.Fatalf("expected sweeps to continue after an error, got %d", got)
	}
}

func TestSweeperPrunesWithRetention(t *testing.T) {
	rep := &stubRepublisher{}
	pr := &stubPruner{}
	s := NewSweeper(Config{
		Republisher:   rep,
		Pruner:        pr,
		Logger:        zerolog.Nop(),
		Interval:      time.Hour,
		Retention:     48 * time.Hour,
		PruneInterval: 10 * time.Millisecond,
	})

	runFor(t, s, 45*time.Millisecond)

	if pr.calls.Load() == 0 {
		t.Fatal("expected prune to run")
	}
	if got := time.Duration(pr.olderThan.Load()); got != 48*time.Hour {
		t.Fatalf("expected retention 48h, got %s", got)
	}
}

func TestSweeperPruningDisabledWithoutRetention(t *testing.T) {
	pr := &stubPruner{}
	s := NewSweeper(Config{
		Republisher:   &stubRepublisher{},
		Pruner:        pr,
		Logger:        zerolog.Nop(),
		Interval:      time.Hour,
		PruneInterval: 5 * time.Millisecond,
	})

	runFor(t, s, 30*time.Millisecond)

	if got := pr.calls.Load(); got != 0 {
		t.Fatalf("expected no prune calls, got %d", got)
	}
}
