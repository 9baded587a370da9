// Package telemetry is the authoritative flight-state store: it decodes
// delimited data rows against the active header list, keeps the append-only
// receive and state histories, and republishes snapshots as per-category
// events. It never touches the network and never rejects malformed values;
// semantic validation belongs downstream.
package telemetry

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FieldDelimiter separates fields in both header and data frames.
const FieldDelimiter = ","

// Snapshot is one decoded data row: field name to scalar value. Values are
// float64 when the token parses as a number, otherwise the trimmed string.
// Snapshots are immutable once created; accessors return copies.
type Snapshot map[string]any

// RawFrame is one received frame with its receipt timestamp.
type RawFrame struct {
	At   time.Time
	Text string
}

// Truncation describes a column-count mismatch between a data row and the
// header list. The row is still stored; the mismatch is reported so callers
// can log and tests can assert on it.
type Truncation struct {
	Headers int
	Values  int
}

func (t Truncation) Occurred() bool { return t.Headers != t.Values }

// Archiver receives a durable copy of everything the store records.
// Appends must not fail the caller; implementations log their own errors.
type Archiver interface {
	BeginEpoch()
	AppendFrame(at time.Time, raw string)
	AppendSnapshot(at time.Time, snap Snapshot)
}

// Store holds the header list, current snapshot, and histories for one link
// epoch. It is constructed and injected, never a package global.
type Store struct {
	log     zerolog.Logger
	bus     *Bus
	archive Archiver
	now     func() time.Time

	mu          sync.RWMutex
	headers     []string
	current     Snapshot
	history     []Snapshot
	received    []RawFrame
	truncations uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxListeners caps event subscribers per packet category.
func WithMaxListeners(n int) Option {
	return func(s *Store) { s.bus.max = n }
}

// WithArchive wires a durable archive for frames and snapshots.
func WithArchive(a Archiver) Option {
	return func(s *Store) { s.archive = a }
}

func New(log zerolog.Logger, opts ...Option) *Store {
	log = log.With().Str("comp", "telemetry").Logger()
	s := &Store{
		log: log,
		bus: newBus(log, DefaultMaxListeners),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func splitFields(text string) []string {
	parts := strings.Split(text, FieldDelimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseScalar(token string) any {
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f
	}
	return token
}

// SetHeadersFromString splits text on the field delimiter, trims every
// token, and installs the result as the header list, overwriting any prior
// list. Returns the installed headers.
func (s *Store) SetHeadersFromString(text string) []string {
	headers := splitFields(text)

	s.mu.Lock()
	s.headers = headers
	s.mu.Unlock()

	s.log.Info().Int("fields", len(headers)).Msg("header list installed")
	out := make([]string, len(headers))
	copy(out, headers)
	return out
}

// Headers returns a copy of the current header list.
func (s *Store) Headers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.headers))
	copy(out, s.headers)
	return out
}

// HasHeaders reports whether a header list is installed for this epoch.
func (s *Store) HasHeaders() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.headers) > 0
}

// DecodeRow zips a data row position-wise against the header list into a
// snapshot. The shorter side wins: extra headers or extra values are
// dropped, reported via Truncation, and never an error. DecodeRow does not
// mutate the store.
func (s *Store) DecodeRow(text string) (Snapshot, Truncation) {
	values := splitFields(text)

	s.mu.RLock()
	headers := s.headers
	n := len(headers)
	if len(values) < n {
		n = len(values)
	}
	snap := make(Snapshot, n)
	for i := 0; i < n; i++ {
		snap[headers[i]] = parseScalar(values[i])
	}
	trunc := Truncation{Headers: len(headers), Values: len(values)}
	s.mu.RUnlock()

	return snap, trunc
}

// RecordRow decodes a data row, makes it the current state, and appends it
// to the state history and the raw receive history.
func (s *Store) RecordRow(text string) (Snapshot, Truncation) {
	snap, trunc := s.DecodeRow(text)
	at := s.now()

	s.mu.Lock()
	s.current = snap
	s.history = append(s.history, snap)
	s.received = append(s.received, RawFrame{At: at, Text: text})
	if trunc.Occurred() {
		s.truncations++
	}
	s.mu.Unlock()

	if s.archive != nil {
		s.archive.AppendFrame(at, text)
		s.archive.AppendSnapshot(at, snap)
	}
	return snap, trunc
}

// CurrentState returns a copy of the latest snapshot.
func (s *Store) CurrentState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.current))
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

// StateHistory returns the decoded snapshots in receipt order.
func (s *Store) StateHistory() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}

// Received returns every raw frame recorded this epoch.
func (s *Store) Received() []RawFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RawFrame, len(s.received))
	copy(out, s.received)
	return out
}

// Truncations counts column-count mismatches observed this epoch.
func (s *Store) Truncations() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.truncations
}

// Reset clears the header list, current state, and histories. Called at
// every link-epoch boundary; a new header frame is required before data
// rows decode again.
func (s *Store) Reset() {
	s.mu.Lock()
	s.headers = nil
	s.current = nil
	s.history = nil
	s.received = nil
	s.truncations = 0
	s.mu.Unlock()

	if s.archive != nil {
		s.archive.BeginEpoch()
	}
}

// Subscribe registers a listener for one packet category.
func (s *Store) Subscribe(cat Category, fn Listener) (func(), error) {
	return s.bus.Subscribe(cat, fn)
}

// EmitPackets publishes the given packets in slice order. Each packet goes
// only to listeners of its own category.
func (s *Store) EmitPackets(packets []Packet) {
	for _, p := range packets {
		s.bus.Publish(p)
	}
}

// PublishCurrent slices the current snapshot per category and emits one
// packet per category that has at least one field present. Returns the
// packets it published.
func (s *Store) PublishCurrent() []Packet {
	current := s.CurrentState()

	var packets []Packet
	for _, cat := range categoryOrder {
		payload := make(map[string]any)
		for _, field := range categoryFields[cat] {
			if v, ok := current[field]; ok {
				payload[field] = v
			}
		}
		if len(payload) == 0 {
			continue
		}
		packets = append(packets, Packet{Category: cat, Payload: payload})
	}

	s.EmitPackets(packets)
	return packets
}
