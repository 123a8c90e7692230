package core

// Token identifies a deferred callback. Tokens are single bits so that any
// number of completions can be pending at once without a queue.
type Token uint32

// Submitter accepts completion tokens from interrupt context. Submit must not block.
type Submitter interface {
	Submit(tok Token)
}

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler is the cooperative main-loop scheduler: a sorted timer list plus
// a set of pending event tokens raised from interrupt handlers.
type Scheduler struct {
	timers  *Timer
	pending Token
}

// Submit marks tok pending. Safe from interrupt context.
func (s *Scheduler) Submit(tok Token) {
	state := disableInterrupts()
	s.pending |= tok
	restoreInterrupts(state)
	RecordTrace(TraceSubmit, 0, 0, uint32(tok))
}

// Pending returns the set of tokens raised but not yet taken.
func (s *Scheduler) Pending() Token {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return s.pending
}

// Take clears tok and reports whether it was pending.
func (s *Scheduler) Take(tok Token) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	was := s.pending&tok != 0
	s.pending &^= tok
	return was
}

// ScheduleTimer adds a timer to the schedule
func (s *Scheduler) ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	s.insertTimer(t)
}

// CancelTimer removes t if it is scheduled.
func (s *Scheduler) CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for p := &s.timers; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer inserts a timer in sorted order by WakeTime
func (s *Scheduler) insertTimer(t *Timer) {
	if s.timers == nil || t.WakeTime < s.timers.WakeTime {
		t.Next = s.timers
		s.timers = t
		return
	}

	current := s.timers
	for current.Next != nil && current.Next.WakeTime < t.WakeTime {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Dispatch runs every timer due at or before now. Handlers run with
// interrupts enabled so they may start bus transactions.
func (s *Scheduler) Dispatch(now uint32) {
	for {
		state := disableInterrupts()
		timer := s.timers
		if timer == nil || timer.WakeTime > now {
			restoreInterrupts(state)
			return
		}
		s.timers = timer.Next
		timer.Next = nil
		restoreInterrupts(state)

		if timer.Handler(timer) == SF_RESCHEDULE {
			s.ScheduleTimer(timer)
		}
	}
}
