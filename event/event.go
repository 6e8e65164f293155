// Package event implements the single-threaded cooperative scheduler that
// drives vclock's stateful actors: the quorum client and server each run as
// a State polled by a Session. The clock-verify gateway is a worker.Sink, not
// a State, and the recursive-clock engine is called directly. Handlers run
// to completion without blocking; any blocking or CPU-bound work is
// offloaded to package worker.
package event

import (
	"errors"
	"time"
)

// ErrChannelClosed is returned by Session.Run when its event source has been
// closed, and by Sender.Send when sending past that point.
var ErrChannelClosed = errors.New("event: channel closed")

// ErrTimerMissing is returned by Timer.Unset for an unknown or already-unset
// TimerID. Timers are periodic, so a timer that has fired is still live.
var ErrTimerMissing = errors.New("event: timer not found")

// TimerID names a timer created by Timer.Set.
type TimerID uint32

// Timer lets an event handler start and stop periodic timers. Set and Unset
// both return immediately; Unset is not synchronous with respect to fires
// already in flight (see Session.Run).
type Timer interface {
	Set(period time.Duration) (TimerID, error)
	Unset(id TimerID) error
}

// SendEvent is the only way a handler — or anything outside the loop that
// holds a Sender — enqueues work for a Session. A send past Session shutdown
// surfaces ErrChannelClosed to the caller.
type SendEvent[M any] interface {
	Send(event M) error
}

// OnEvent is implemented by an actor's state to react to one inbound event.
type OnEvent[M any] interface {
	OnEvent(event M, timer Timer) error
}

// OnTimer is implemented by an actor's state to react to one of its own
// timer fires.
type OnTimer interface {
	OnTimer(id TimerID, timer Timer) error
}

// State is what a Session polls: an actor that reacts to events of type M
// and to its own timer fires.
type State[M any] interface {
	OnEvent[M]
	OnTimer
}
