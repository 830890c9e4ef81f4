package sink

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/randchat/pkg/model"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func TestBannerPublishAndExpire(t *testing.T) {
	sched := &fakeScheduler{}
	b := NewBanner(5*time.Second, sched)

	n := b.Publish("Matched with bob", "match")
	got, ok := b.Current()
	if !ok || got.Text != "Matched with bob" || got.Source != "match" || got.ID != n.ID {
		t.Fatalf("Current() = %+v, %v", got, ok)
	}
	if len(sched.timers) != 1 || sched.timers[0].d != 5*time.Second {
		t.Fatalf("expected one 5s timer, got %+v", sched.timers)
	}

	sched.timers[0].f()
	if _, ok := b.Current(); ok {
		t.Fatalf("banner should be empty after expiry")
	}
}

func TestBannerSupersession(t *testing.T) {
	sched := &fakeScheduler{}
	b := NewBanner(5*time.Second, sched)

	b.Publish("A", "first")
	b.Publish("B", "second")

	if len(sched.timers) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(sched.timers))
	}
	if !sched.timers[0].stopped {
		t.Errorf("A's dismiss timer should be cancelled")
	}
	if sched.timers[1].stopped {
		t.Errorf("B's dismiss timer must stay armed")
	}

	// A's callback racing past Stop must not dismiss B.
	sched.timers[0].f()
	got, ok := b.Current()
	if !ok || got.Text != "B" {
		t.Fatalf("Current() = %+v, %v; want B visible", got, ok)
	}

	sched.timers[1].f()
	if _, ok := b.Current(); ok {
		t.Fatalf("B should expire on its own timer")
	}
}

func TestBannerDismiss(t *testing.T) {
	sched := &fakeScheduler{}
	b := NewBanner(0, sched)

	var changes []bool
	b.OnChange = func(_ Notification, ok bool) { changes = append(changes, ok) }

	b.Dismiss() // empty: no-op
	b.Publish("hello", "test")
	b.Dismiss()
	b.Dismiss()

	if _, ok := b.Current(); ok {
		t.Fatalf("banner should be empty")
	}
	if !sched.timers[0].stopped {
		t.Errorf("dismiss must stop the pending timer")
	}
	if sched.timers[0].d != DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", sched.timers[0].d, DefaultTimeout)
	}
	if diff := cmp.Diff([]bool{true, false}, changes); diff != "" {
		t.Errorf("OnChange sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestLogAppendClear(t *testing.T) {
	l := NewLog()
	now := time.Unix(1700000000, 0)
	l.Append(model.Message{Author: "alice", Text: "hi", ReceivedAt: now})
	l.Append(model.Message{Author: "bob", Text: "hey", ReceivedAt: now.Add(-time.Minute)})

	want := []model.Message{
		{Author: "alice", Text: "hi", ReceivedAt: now},
		{Author: "bob", Text: "hey", ReceivedAt: now.Add(-time.Minute)},
	}
	if diff := cmp.Diff(want, l.Snapshot()); diff != "" {
		t.Errorf("receipt order not preserved (-want +got):\n%s", diff)
	}

	snap := l.Snapshot()
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("Len() = %d after Clear", l.Len())
	}
	if len(snap) != 2 {
		t.Errorf("earlier snapshot must not be affected by Clear")
	}
}

func TestLogConcurrentReaders(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n := len(l.Snapshot())
				if n != 0 && n != 1 && n != 2 {
					t.Errorf("reader saw partial state: %d messages", n)
					return
				}
			}
		}()
	}
	for j := 0; j < 200; j++ {
		l.Append(model.Message{Author: "a", Text: "1"})
		l.Append(model.Message{Author: "b", Text: "2"})
		l.Clear()
	}
	wg.Wait()
}
