package server

import (
	"sort"
	"sync"
	"time"
)

// Cancel stops a scheduled task. Calling it after the task ran is a no-op.
type Cancel func()

// Scheduler runs fn once after d.
type Scheduler interface {
	After(d time.Duration, fn func()) Cancel
}

// TimerScheduler uses real timers.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type manualTask struct {
	id   int
	due  time.Duration
	fn   func()
	dead bool
}

// ManualScheduler only runs tasks when its clock is advanced. The Nakama
// adapter advances it once per match tick; tests advance it directly.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	next  int
	tasks []*manualTask
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) After(d time.Duration, fn func()) Cancel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	t := &manualTask{id: s.next, due: s.now + d, fn: fn}
	s.tasks = append(s.tasks, t)
	return func() {
		s.mu.Lock()
		t.dead = true
		s.mu.Unlock()
	}
}

// Advance moves the clock forward by d and runs every task that fell due,
// including tasks scheduled by those tasks within the window.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()
	ran := 0
	for {
		t := s.popDue(target)
		if t == nil {
			break
		}
		t.fn()
		ran++
	}
	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
	return ran
}

// Step runs the earliest pending task regardless of its delay.
func (s *ManualScheduler) Step() bool {
	t := s.popDue(-1)
	if t == nil {
		return false
	}
	t.fn()
	return true
}

func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.dead {
			n++
		}
	}
	return n
}

// popDue removes the earliest live task due by target. A negative target
// accepts any task and jumps the clock to it.
func (s *ManualScheduler) popDue(target time.Duration) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.dead {
			live = append(live, t)
		}
	}
	s.tasks = live
	if len(s.tasks) == 0 {
		return nil
	}
	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].due != s.tasks[j].due {
			return s.tasks[i].due < s.tasks[j].due
		}
		return s.tasks[i].id < s.tasks[j].id
	})
	t := s.tasks[0]
	if target >= 0 && t.due > target {
		return nil
	}
	if t.due > s.now {
		s.now = t.due
	}
	s.tasks = s.tasks[1:]
	return t
}
