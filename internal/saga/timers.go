package saga

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerSet holds the per-reservation payment deadline timers. A timer is
// cancelled the moment its reservation leaves AWAITING_PAYMENT; the
// idempotency guard settles the race with a timer that already fired.
type timerSet struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[uuid.UUID]*time.Timer)}
}

func (ts *timerSet) Arm(id uuid.UUID, d time.Duration, fire func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[id]; ok {
		t.Stop()
	}
	ts.timers[id] = time.AfterFunc(d, func() {
		ts.Cancel(id)
		fire()
	})
}

func (ts *timerSet) Cancel(id uuid.UUID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[id]; ok {
		t.Stop()
		delete(ts.timers, id)
	}
}

func (ts *timerSet) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.timers {
		t.Stop()
		delete(ts.timers, id)
	}
}
