// Package status holds the named connectivity codes and transient notices
// the link manager reports through. UI layers read it; they never write.
package status

import (
	"sync"
	"time"
)

// Code names a boolean status flag.
type Code string

const (
	CodeConnected        Code = "CONNECTED"
	CodeDisconnected     Code = "DISCONNECTED"
	CodeTimeoutDataRelay Code = "TIMEOUT_DATA_RELAY"
	CodeDiscoveryTimeout Code = "DISCOVERY_TIMEOUT"
)

// Severity classifies a transient notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a transient human-readable status message. ExpireAt zero means
// the notice never expires.
type Notice struct {
	Message  string
	Severity Severity
	At       time.Time
	ExpireAt time.Time
}

// Register stores boolean status codes and transient notices. Expired
// notices are pruned lazily on read.
type Register struct {
	mu      sync.RWMutex
	now     func() time.Time
	codes   map[Code]bool
	notices []Notice
}

func NewRegister() *Register {
	return &Register{
		now:   time.Now,
		codes: make(map[Code]bool),
	}
}

// SetStatusCode flips the named flag.
func (r *Register) SetStatusCode(code Code, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code] = on
}

// StatusCode reports the named flag; unset codes read false.
func (r *Register) StatusCode(code Code) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[code]
}

// Codes returns a copy of every flag that has been written.
func (r *Register) Codes() map[Code]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Code]bool, len(r.codes))
	for k, v := range r.codes {
		out[k] = v
	}
	return out
}

// AddStatus records a transient notice. A positive ttl makes the notice
// auto-expire ttl after now.
func (r *Register) AddStatus(message string, sev Severity, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := Notice{
		Message:  message,
		Severity: sev,
		At:       r.now(),
	}
	if ttl > 0 {
		n.ExpireAt = n.At.Add(ttl)
	}
	r.notices = append(r.notices, n)
}

// Notices returns the live notices, dropping any whose TTL has elapsed.
func (r *Register) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	kept := r.notices[:0]
	for _, n := range r.notices {
		if n.ExpireAt.IsZero() || n.ExpireAt.After(now) {
			kept = append(kept, n)
		}
	}
	r.notices = kept
	out := make([]Notice, len(kept))
	copy(out, kept)
	return out
}
