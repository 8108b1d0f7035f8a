package netstatus

import "time"

// State represents the connectivity state machine
type State int

const (
	// StateOnline - requests are succeeding, the network is usable
	StateOnline State = iota
	// StateOffline - consecutive failures tripped the monitor offline
	StateOffline
	// StateRecovering - the recovery timeout elapsed, awaiting proof of life
	StateRecovering
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateOffline:
		return "OFFLINE"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// Counts holds sample totals and the running streaks the trip rule reads
type Counts struct {
	Samples              uint64 `json:"samples"`
	Successes            uint64 `json:"successes"`
	Failures             uint64 `json:"failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) onSuccess() {
	c.Samples++
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.Samples++
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clearStreaks() {
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
}

// breaker is the offline-detection state machine: online trips to offline
// after a failure streak, offline moves to recovering when the timeout
// elapses, and recovering resolves on the next sample (success closes,
// failure re-trips).
//
// Not safe for concurrent use; the monitor serializes access under its
// own mutex.
type breaker struct {
	failureThreshold uint32
	recoveryTimeout  time.Duration

	state  State
	counts Counts
	expiry time.Time
}

func newBreaker(failureThreshold uint32, recoveryTimeout time.Duration) *breaker {
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 15 * time.Second
	}

	return &breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateOnline,
	}
}

// current returns the state at now, applying the offline-to-recovering
// transition lazily
func (b *breaker) current(now time.Time) State {
	if b.state == StateOffline && b.expiry.Before(now) {
		b.setState(StateRecovering, now)
	}
	return b.state
}

// record applies one sample outcome and reports whether the state changed
func (b *breaker) record(err error, now time.Time) (State, bool) {
	state := b.current(now)
	prev := state

	if err == nil {
		b.counts.onSuccess()
		if state == StateRecovering {
			b.setState(StateOnline, now)
		}
	} else {
		b.counts.onFailure()
		switch state {
		case StateOnline:
			if b.counts.ConsecutiveFailures >= b.failureThreshold {
				b.setState(StateOffline, now)
			}
		case StateRecovering:
			b.setState(StateOffline, now)
		}
	}

	return b.state, b.state != prev
}

func (b *breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	b.state = state
	b.counts.clearStreaks()

	if state == StateOffline {
		b.expiry = now.Add(b.recoveryTimeout)
	} else {
		b.expiry = time.Time{}
	}
}
