package sink

import (
	"sync"
	"time"
)

// DefaultTimeout is how long a notification stays up without user dismissal.
const DefaultTimeout = 5 * time.Second

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The client engine supplies one that posts f onto its event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the runtime timer wheel.
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Notification is a transient status banner. Source tags the event that produced it.
type Notification struct {
	ID       uint64
	Text     string
	Source   string
	PostedAt time.Time
}

// Banner holds at most one live notification. A newer notification supersedes the
// current one and cancels its dismiss timer.
type Banner struct {
	mu      sync.RWMutex
	sched   Scheduler
	timeout time.Duration
	now     func() time.Time

	seq     uint64
	current *Notification
	timer   Timer

	// OnChange is called after every publish, dismiss, or expiry with the visible
	// notification (ok=false when the banner is empty). Called without the lock held.
	OnChange func(n Notification, ok bool)
}

// NewBanner creates a banner. A nil scheduler uses SystemScheduler; a non-positive
// timeout uses DefaultTimeout.
func NewBanner(timeout time.Duration, sched Scheduler) *Banner {
	if sched == nil {
		sched = SystemScheduler{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Banner{
		sched:   sched,
		timeout: timeout,
		now:     time.Now,
	}
}

// Publish replaces the current notification and (re)starts the dismiss timer.
func (b *Banner) Publish(text, source string) Notification {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.seq++
	n := Notification{ID: b.seq, Text: text, Source: source, PostedAt: b.now()}
	b.current = &n
	id := n.ID
	b.timer = b.sched.AfterFunc(b.timeout, func() { b.expire(id) })
	b.mu.Unlock()

	b.changed(n, true)
	return n
}

// Dismiss clears the banner early. Dismissing an empty banner is a no-op.
func (b *Banner) Dismiss() {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return
	}
	b.clearLocked()
	b.mu.Unlock()

	b.changed(Notification{}, false)
}

// Current returns the visible notification, if any.
func (b *Banner) Current() (Notification, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return Notification{}, false
	}
	return *b.current, true
}

// expire dismisses notification id unless something newer replaced it. A timer that
// fired just as it was being superseded lands here with a stale id and does nothing.
func (b *Banner) expire(id uint64) {
	b.mu.Lock()
	if b.current == nil || b.current.ID != id {
		b.mu.Unlock()
		return
	}
	b.clearLocked()
	b.mu.Unlock()

	b.changed(Notification{}, false)
}

func (b *Banner) clearLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.current = nil
}

func (b *Banner) changed(n Notification, ok bool) {
	if b.OnChange != nil {
		b.OnChange(n, ok)
	}
}
