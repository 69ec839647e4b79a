package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSequencer struct {
	next uint64
	err  error
}

func (s *stubSequencer) NextSequence(ctx context.Context) (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func TestSystemClockNow(t *testing.T) {
	c := NewSystemClock(nil)
	before := uint64(time.Now().Unix())
	got := c.Now()
	if got < before || got > before+1 {
		t.Errorf("Now() = %d, want about %d", got, before)
	}
}

func TestSystemClockUsesSequencer(t *testing.T) {
	seq := &stubSequencer{next: 41}
	c := NewSystemClock(seq)

	if got := c.Sequence(context.Background()); got != 42 {
		t.Errorf("Sequence() = %d, want 42", got)
	}
}

func TestSystemClockFallsBackMonotonic(t *testing.T) {
	seq := &stubSequencer{next: 9}
	c := NewSystemClock(seq)
	ctx := context.Background()

	if got := c.Sequence(ctx); got != 10 {
		t.Fatalf("Sequence() = %d, want 10", got)
	}

	seq.err = errors.New("redis down")
	if got := c.Sequence(ctx); got != 11 {
		t.Errorf("Sequence() during outage = %d, want 11", got)
	}
}

func TestSystemClockWithoutSequencer(t *testing.T) {
	c := NewSystemClock(nil)
	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		if got := c.Sequence(ctx); got != want {
			t.Errorf("Sequence() = %d, want %d", got, want)
		}
	}
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(1000)
	if c.Now() != 1000 {
		t.Errorf("Now() = %d, want 1000", c.Now())
	}
	c.Advance(5)
	if c.Now() != 1005 {
		t.Errorf("Now() after Advance = %d, want 1005", c.Now())
	}
	c.Set(7)
	if c.Now() != 7 {
		t.Errorf("Now() after Set = %d, want 7", c.Now())
	}

	ctx := context.Background()
	if a, b := c.Sequence(ctx), c.Sequence(ctx); a != 1 || b != 2 {
		t.Errorf("Sequence() = %d, %d, want 1, 2", a, b)
	}
}
