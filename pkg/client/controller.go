package client

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the client-observed connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrReconnectFailed is wrapped by the fatal error reported once the
// retry budget is exhausted.
var ErrReconnectFailed = errors.New("client: reconnect attempts exhausted")

// ControllerHooks observe a Controller. All fields are optional and are
// called without the controller lock held.
type ControllerHooks struct {
	// OnState is called on every state transition.
	OnState func(from, to State)

	// OnRetry is called when a retry is scheduled.
	OnRetry func(attempt int, delay time.Duration)

	// OnFatal is called exactly once per exhausted retry budget.
	OnFatal func(err error)
}

// Controller is the reconnect state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Reconnecting (unclean close) -> Connecting -> ...
//	any -> Disconnected (clean close, Stop, or exhausted budget)
//
// The redial function passed to NewController performs one connection
// attempt and must report its result with Connected or Lost.
type Controller struct {
	backoff Backoff
	sched   Scheduler
	redial  func()
	hooks   ControllerHooks

	mu      sync.Mutex
	state   State
	attempt int
	timer   Timer
}

// NewController creates a controller in the Disconnected state.
func NewController(b Backoff, sched Scheduler, redial func(), hooks ControllerHooks) *Controller {
	if sched == nil {
		sched = RealScheduler{}
	}
	return &Controller{
		backoff: b,
		sched:   sched,
		redial:  redial,
		hooks:   hooks,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of consecutive failed connections.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Begin moves Disconnected to Connecting for a caller-driven first
// connection. It reports false if the controller is not disconnected.
func (c *Controller) Begin() bool {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return false
	}
	c.attempt = 0
	notify := c.transition(StateConnecting)
	c.mu.Unlock()
	notify()
	return true
}

// Connected records a successful connection and resets the retry budget.
func (c *Controller) Connected() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.attempt = 0
	notify := c.transition(StateConnected)
	c.mu.Unlock()
	notify()
}

// Lost records an unclean close or a failed connection attempt. It
// schedules a retry, or reports the fatal error when the budget is spent.
// It is ignored unless the controller is Connecting or Connected.
func (c *Controller) Lost(cause error) {
	c.mu.Lock()
	if c.state != StateConnecting && c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.attempt++
	attempt := c.attempt

	if c.backoff.Exhausted(attempt) {
		notify := c.transition(StateDisconnected)
		c.mu.Unlock()
		notify()
		if c.hooks.OnFatal != nil {
			c.hooks.OnFatal(fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, attempt-1, cause))
		}
		return
	}

	delay := c.backoff.Delay(attempt)
	notify := c.transition(StateReconnecting)
	c.timer = c.sched.AfterFunc(delay, c.retry)
	c.mu.Unlock()
	notify()
	if c.hooks.OnRetry != nil {
		c.hooks.OnRetry(attempt, delay)
	}
}

// Stop cancels any pending retry and moves to Disconnected. It is used
// for clean closes.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	notify := c.transition(StateDisconnected)
	c.mu.Unlock()
	notify()
}

func (c *Controller) retry() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	notify := c.transition(StateConnecting)
	c.mu.Unlock()
	notify()
	c.redial()
}

// transition must be called with c.mu held. The returned func delivers
// the hook after the lock is released.
func (c *Controller) transition(to State) func() {
	from := c.state
	c.state = to
	if c.hooks.OnState == nil || from == to {
		return func() {}
	}
	return func() { c.hooks.OnState(from, to) }
}
