package llm

import (
	"sync"
	"time"
)

// FailoverConfig configures the process-wide failover flag.
type FailoverConfig struct {
	// EmergencyEndpointURL and EmergencyModel are where traffic is
	// rerouted while the flag is tripped. Thinking is forced off on the
	// emergency path.
	EmergencyEndpointURL string
	EmergencyModel       string

	// RecoveryTimeout is how long the flag stays tripped before the next
	// request is allowed to retry the native path.
	RecoveryTimeout time.Duration
}

// DefaultFailoverConfig returns a 5-minute recovery window.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{RecoveryTimeout: 5 * time.Minute}
}

// Failover is the single process-wide flag consulted before every request.
// Unlike a per-provider circuit breaker, there is exactly one flag for the
// whole process: when tripped, every request reroutes to the emergency
// endpoint until the recovery timer fires.
type Failover struct {
	mu        sync.Mutex
	cfg       FailoverConfig
	tripped   bool
	trippedAt time.Time
	timer     *time.Timer
}

// NewFailover creates an untripped Failover guard.
func NewFailover(cfg FailoverConfig) *Failover {
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultFailoverConfig().RecoveryTimeout
	}
	return &Failover{cfg: cfg}
}

// IsTripped reports whether requests should currently be rerouted.
func (f *Failover) IsTripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tripped
}

// Trip sets the flag and schedules a timer that clears it after
// RecoveryTimeout, at which point the next request retries the native
// path. Calling Trip while already tripped resets the timer.
func (f *Failover) Trip() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tripped = true
	f.trippedAt = time.Now()

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.RecoveryTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tripped = false
	})
}

// TripIfWarranted trips the flag only when reason.TripsFailover() is true.
// Call this from the path that classifies a native-provider failure.
func (f *Failover) TripIfWarranted(reason FailoverReason) {
	if reason.TripsFailover() {
		f.Trip()
	}
}

// Route returns the endpoint URL and model override to use for the next
// request: the emergency pair while tripped, or empty strings (meaning
// "use the native provider as configured") otherwise.
func (f *Failover) Route() (endpointURL, model string, thinkingForcedOff bool) {
	if f.IsTripped() {
		return f.cfg.EmergencyEndpointURL, f.cfg.EmergencyModel, true
	}
	return "", "", false
}

// Reset clears the flag immediately, for tests and admin tooling.
func (f *Failover) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tripped = false
	if f.timer != nil {
		f.timer.Stop()
	}
}
