package clock

import (
	"testing"
	"time"
)

type fakeTime struct {
	t time.Time
}

func (f *fakeTime) now() time.Time { return f.t }

func TestNowAnchorsOnFirstCall(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	c := New(ft.now)

	ft.t = ft.t.Add(5 * time.Second)
	if got := c.Now(); got != 0 {
		t.Fatalf("first Now() = %d, want 0", got)
	}

	ft.t = ft.t.Add(1500 * time.Millisecond)
	if got := c.Now(); got != 1500 {
		t.Errorf("Now() = %d, want 1500", got)
	}

	ft.t = ft.t.Add(250*time.Millisecond + 900*time.Microsecond)
	if got := c.Now(); got != 1750 {
		t.Errorf("Now() = %d, want 1750 (sub-ms truncated)", got)
	}
}

func TestClocksAreIndependent(t *testing.T) {
	ft := &fakeTime{t: time.Unix(0, 0)}
	a := New(ft.now)
	a.Now()

	ft.t = ft.t.Add(time.Second)
	b := New(ft.now)
	if got := b.Now(); got != 0 {
		t.Fatalf("fresh clock Now() = %d, want 0", got)
	}
	if got := a.Now(); got != 1000 {
		t.Errorf("old clock Now() = %d, want 1000", got)
	}
}

func TestNilNowUsesWallClock(t *testing.T) {
	c := New(nil)
	if got := c.Now(); got != 0 {
		t.Fatalf("first Now() = %d, want 0", got)
	}
	time.Sleep(5 * time.Millisecond)
	if got := c.Now(); got < 5 {
		t.Errorf("Now() = %d, want >= 5", got)
	}
}
