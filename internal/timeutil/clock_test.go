package timeutil

import (
	"testing"
	"time"
)

var start = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since should not be negative")
	}

	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real After never fired")
	}

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClockAdvance(t *testing.T) {
	c := NewMockClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v", c.Now())
	}
}

func TestMockClockRecordsSleeps(t *testing.T) {
	c := NewMockClock(start)
	c.Sleep(50 * time.Millisecond)
	c.Sleep(time.Second)

	got := c.Sleeps()
	want := []time.Duration{50 * time.Millisecond, time.Second}
	if len(got) != len(want) {
		t.Fatalf("Sleeps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sleeps()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !c.Now().Equal(start) {
		t.Error("Sleep must not move the mock clock")
	}

	select {
	case got := <-c.After(time.Minute):
		if !got.Equal(start) {
			t.Errorf("After delivered %v, want %v", got, start)
		}
	default:
		t.Error("mock After should be ready at once")
	}
	if n := len(c.Sleeps()); n != 3 {
		t.Errorf("After was not recorded, %d waits", n)
	}
	got = c.Sleeps()

	// The returned slice is a copy.
	got[0] = 0
	if c.Sleeps()[0] != 50*time.Millisecond {
		t.Error("Sleeps() exposed internal state")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(start)
	tk := c.NewTicker(10 * time.Second)

	expectTick := func(want bool) {
		t.Helper()
		select {
		case <-tk.C():
			if !want {
				t.Error("unexpected tick")
			}
		default:
			if want {
				t.Error("expected a tick")
			}
		}
	}

	c.Advance(9 * time.Second)
	expectTick(false)

	c.Advance(time.Second)
	expectTick(true)

	// Crossing several periods at once delivers a single tick.
	c.Advance(35 * time.Second)
	expectTick(true)
	expectTick(false)

	// Next deadline is start+50s.
	c.Advance(4 * time.Second)
	expectTick(false)
	c.Advance(time.Second)
	expectTick(true)

	tk.Stop()
	c.Advance(time.Minute)
	expectTick(false)
}

func TestMockTickerRejectsZeroPeriod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewMockClock(start).NewTicker(0)
}
