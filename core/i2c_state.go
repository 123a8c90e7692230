package core

// State is the phase of an in-flight transaction.
type State uint8

const (
	StateRequestResource State = iota // write header sent, waiting for the slave
	StateCommandTransmit              // measurement command sent
	StateDataRequest                  // repeated start + read header sent
	StateDataReceive                  // clocking in data bytes
	StateStopComplete                 // stop issued, waiting for MSTOP
	StateIdle                         // transaction finished
)

func (s State) String() string {
	switch s {
	case StateRequestResource:
		return "request_resource"
	case StateCommandTransmit:
		return "command_transmit"
	case StateDataRequest:
		return "data_request"
	case StateDataReceive:
		return "data_receive"
	case StateStopComplete:
		return "stop_complete"
	case StateIdle:
		return "idle"
	default:
		return "state(" + utoa(uint32(s)) + ")"
	}
}

// Event is a hardware interrupt category consumed by the state machine.
type Event uint8

const (
	EventAck Event = iota
	EventNack
	EventRxData
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventAck:
		return "ack"
	case EventNack:
		return "nack"
	case EventRxData:
		return "rxdata"
	case EventStop:
		return "mstop"
	default:
		return "event(" + utoa(uint32(e)) + ")"
	}
}

// Action is a side effect requested by a transition. The registry applies
// actions in order against the bus registers and collaborators.
type Action uint8

const (
	ActNone            Action = iota
	ActStart                  // CMD = START (repeated start)
	ActCont                   // CMD = CONT
	ActAck                    // CMD = ACK
	ActNack                   // CMD = NACK
	ActStop                   // CMD = STOP
	ActSendCommand            // TXDATA = measurement command
	ActSendReadHeader         // TXDATA = addr<<1 | 1
	ActSendWriteHeader        // TXDATA = addr<<1 | 0
	ActStoreByte              // pop RXDATA into the result buffer, decrement remaining
	ActFinish                 // clear busy, unblock, submit token, reset bus
)

func (a Action) String() string {
	switch a {
	case ActNone:
		return "none"
	case ActStart:
		return "start"
	case ActCont:
		return "cont"
	case ActAck:
		return "ack"
	case ActNack:
		return "nack"
	case ActStop:
		return "stop"
	case ActSendCommand:
		return "send_command"
	case ActSendReadHeader:
		return "send_read_header"
	case ActSendWriteHeader:
		return "send_write_header"
	case ActStoreByte:
		return "store_byte"
	case ActFinish:
		return "finish"
	default:
		return "action(" + utoa(uint32(a)) + ")"
	}
}

const maxActions = 3

// Step is the outcome of one transition: the next state and up to three actions.
// Fixed-size so the interrupt path never allocates.
type Step struct {
	Next    State
	Retry   bool // NACK re-issue at the same phase
	actions [maxActions]Action
	n       uint8
}

// Actions returns the requested actions in application order.
func (s *Step) Actions() []Action {
	return s.actions[:s.n]
}

func step(next State, acts ...Action) Step {
	s := Step{Next: next}
	for _, a := range acts {
		s.actions[s.n] = a
		s.n++
	}
	return s
}

// Transition is the pure transaction state machine. remaining is the number of
// bytes still expected before this event is applied. Events the current state
// does not expect return a *ViolationError and a zero Step.
func Transition(state State, ev Event, remaining uint8) (Step, error) {
	switch state {
	case StateRequestResource:
		switch ev {
		case EventAck:
			return step(StateCommandTransmit, ActSendCommand), nil
		case EventNack:
			s := step(StateRequestResource, ActStart, ActSendWriteHeader)
			s.Retry = true
			return s, nil
		}

	case StateCommandTransmit:
		switch ev {
		case EventAck:
			return step(StateDataRequest, ActStart, ActSendReadHeader), nil
		case EventNack:
			s := step(StateCommandTransmit, ActCont, ActSendCommand)
			s.Retry = true
			return s, nil
		}

	case StateDataRequest:
		switch ev {
		case EventAck:
			return step(StateDataReceive), nil
		case EventNack:
			s := step(StateDataRequest, ActStart, ActSendReadHeader)
			s.Retry = true
			return s, nil
		}

	case StateDataReceive:
		if ev == EventRxData && remaining > 0 {
			if remaining-1 > 0 {
				return step(StateDataReceive, ActStoreByte, ActAck), nil
			}
			return step(StateStopComplete, ActStoreByte, ActNack, ActStop), nil
		}

	case StateStopComplete:
		if ev == EventStop {
			return step(StateIdle, ActFinish), nil
		}
	}

	return Step{}, &ViolationError{State: state, Event: ev}
}
