// Package link runs the discovery and connection-lifecycle state machine
// for the telemetry link: it locates the flight-data source, owns the single
// stream connection to it, feeds the telemetry store, and reports
// connectivity through the status register.
package link

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmast/groundlink/internal/status"
	"github.com/openmast/groundlink/internal/telemetry"
	"github.com/openmast/groundlink/internal/transport"
)

// ConnectionName is the logical identity of the telemetry link. At most one
// live transport exists under it at any time.
const ConnectionName = "telemetry"

const (
	commandSentTTL = 1500 * time.Millisecond
	noticeTTL      = 10 * time.Second

	defaultDiscoveryWindow = time.Second
)

var ErrNotConnected = errors.New("link: not connected")

// State of the lifecycle machine. There is no terminal state: after a
// failure the manager can always re-enter discovery via Start.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnHandle is the narrow view of one transport connection the manager
// needs. *transport.Conn satisfies it.
type ConnHandle interface {
	On(ev transport.Event, fn func(payload []byte))
	SetIdleTimeout(d time.Duration)
	Dial()
	Write(b []byte) error
	Close()
}

// Registry is the narrow view of the transport registry.
type Registry interface {
	Add(name, host string, port int) ConnHandle
	RemoveAll(name string)
}

// StatusSink is where connectivity state is reported. *status.Register
// satisfies it.
type StatusSink interface {
	SetStatusCode(code status.Code, on bool)
	AddStatus(message string, sev status.Severity, ttl time.Duration)
}

type registryAdapter struct {
	r *transport.Registry
}

func (a registryAdapter) Add(name, host string, port int) ConnHandle {
	return a.r.Add(name, host, port)
}

func (a registryAdapter) RemoveAll(name string) { a.r.RemoveAll(name) }

// WrapRegistry adapts a concrete transport registry to the Registry
// interface.
func WrapRegistry(r *transport.Registry) Registry { return registryAdapter{r: r} }

// Config holds the manager's runtime settings.
type Config struct {
	// LegacyMode skips discovery and connects straight to LegacyHost:LegacyPort.
	LegacyMode bool
	LegacyHost string
	LegacyPort int

	DiscoveryPort   int
	DiscoveryWindow time.Duration

	IdleTimeout time.Duration
}

// Manager is the link orchestrator. All methods return immediately;
// outcomes surface through the status register and telemetry events.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	reg    Registry
	status StatusSink
	store  *telemetry.Store

	// lifecycleMu serializes Start against asynchronous connect commits
	// from discovery.
	lifecycleMu sync.Mutex

	mu    sync.Mutex
	state State
	epoch uint64
	conn  ConnHandle
}

func New(cfg Config, reg Registry, sink StatusSink, store *telemetry.Store, log zerolog.Logger) *Manager {
	if cfg.DiscoveryWindow <= 0 {
		cfg.DiscoveryWindow = defaultDiscoveryWindow
	}
	return &Manager{
		cfg:    cfg,
		log:    log.With().Str("comp", "link").Logger(),
		reg:    reg,
		status: sink,
		store:  store,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins a new link epoch: it tears down any existing connection
// under the link identity, resets the telemetry store, and either connects
// directly (legacy mode) or launches broadcast discovery. Start never
// blocks and may be called again at any time; recovery after a failure is
// always an external Start, never a hidden retry.
func (m *Manager) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.conn = nil
	m.mu.Unlock()

	m.reg.RemoveAll(ConnectionName)
	m.store.Reset()

	if m.cfg.LegacyMode {
		m.log.Info().Str("host", m.cfg.LegacyHost).Int("port", m.cfg.LegacyPort).Msg("legacy mode, skipping discovery")
		m.connectLocked(epoch, m.cfg.LegacyHost, m.cfg.LegacyPort)
		return
	}

	m.setState(epoch, StateDiscovering)
	go m.discover(epoch)
}

// Send writes an outbound command frame on the live connection. The
// transport raises the transient "command sent" status via its write event.
func (m *Manager) Send(b []byte) error {
	m.mu.Lock()
	conn := m.conn
	st := m.state
	m.mu.Unlock()

	if conn == nil || st != StateConnected {
		return ErrNotConnected
	}
	return conn.Write(b)
}

// currentEpoch reads the epoch counter.
func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// setState transitions only if epoch is still current. Stale async results
// (old discovery replies, events from a torn-down connection) are dropped.
func (m *Manager) setState(epoch uint64, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return false
	}
	m.state = s
	return true
}

// connect establishes the stream connection. Serialized against Start so a
// late discovery commit cannot race a restart.
func (m *Manager) connect(epoch uint64, host string, port int) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	m.connectLocked(epoch, host, port)
}

func (m *Manager) connectLocked(epoch uint64, host string, port int) {
	if !m.setState(epoch, StateConnecting) {
		return
	}
	m.log.Info().Str("host", host).Int("port", port).Msg("connecting")

	h := m.reg.Add(ConnectionName, host, port)
	h.SetIdleTimeout(m.cfg.IdleTimeout)
	h.On(transport.EventConnect, func([]byte) { m.onConnect(epoch) })
	h.On(transport.EventClose, func([]byte) { m.onClose(epoch) })
	h.On(transport.EventTimeout, func([]byte) { m.onTimeout(epoch) })
	h.On(transport.EventData, func(b []byte) { m.onData(epoch, b) })
	h.On(transport.EventWrite, func([]byte) { m.onWrite(epoch) })

	m.mu.Lock()
	if epoch == m.epoch {
		m.conn = h
	}
	m.mu.Unlock()

	h.Dial()
}

func (m *Manager) onConnect(epoch uint64) {
	if !m.setState(epoch, StateConnected) {
		return
	}
	// fresh epoch: a new header frame is required before data decodes
	m.store.Reset()

	m.status.SetStatusCode(status.CodeConnected, true)
	m.status.SetStatusCode(status.CodeDisconnected, false)
	m.status.SetStatusCode(status.CodeDiscoveryTimeout, false)
	m.status.AddStatus("telemetry link established", status.SeverityInfo, noticeTTL)
	m.log.Info().Msg("link established")
}

func (m *Manager) onClose(epoch uint64) {
	if !m.setState(epoch, StateClosed) {
		return
	}
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()

	m.status.SetStatusCode(status.CodeDisconnected, true)
	m.status.SetStatusCode(status.CodeConnected, false)
	m.log.Warn().Msg("link closed; waiting for external restart")
}

func (m *Manager) onTimeout(epoch uint64) {
	if epoch != m.currentEpoch() {
		return
	}
	// liveness warning only: the transport stays open and the state stays
	// CONNECTED; fresh data clears the flag
	m.status.SetStatusCode(status.CodeTimeoutDataRelay, true)
	m.log.Warn().Msg("no telemetry within idle window")
}

func (m *Manager) onWrite(epoch uint64) {
	if epoch != m.currentEpoch() {
		return
	}
	m.status.AddStatus("command sent", status.SeverityInfo, commandSentTTL)
}

func (m *Manager) onData(epoch uint64, b []byte) {
	m.mu.Lock()
	stale := epoch != m.epoch || m.state != StateConnected
	m.mu.Unlock()
	if stale {
		return
	}
	m.handleFrame(string(b))
}

// handleFrame routes one inbound frame: the first non-blank frame of an
// epoch is the header line, everything after is a data row.
func (m *Manager) handleFrame(text string) {
	if strings.TrimSpace(text) == "" {
		m.log.Error().Msg("blank frame discarded")
		return
	}

	if !m.store.HasHeaders() {
		m.handleHeaderFrame(text)
		return
	}

	_, trunc := m.store.RecordRow(text)
	if trunc.Occurred() {
		m.log.Warn().
			Int("headers", trunc.Headers).
			Int("values", trunc.Values).
			Msg("column count mismatch, extra entries dropped")
	}
	// fresh data is itself proof of liveness
	m.status.SetStatusCode(status.CodeTimeoutDataRelay, false)
	m.store.PublishCurrent()
}

func (m *Manager) handleHeaderFrame(text string) {
	headers := m.store.SetHeadersFromString(text)

	if dups := telemetry.DuplicateFields(headers); len(dups) > 0 {
		m.log.Warn().Strs("fields", dups).Msg("duplicate header fields, later columns shadow earlier ones")
	}

	missing := telemetry.MissingFields(headers)
	for _, cat := range telemetry.Categories() {
		if fields, ok := missing[cat]; ok {
			m.log.Warn().
				Str("category", string(cat)).
				Strs("fields", fields).
				Msg("header list missing expected fields")
		}
	}
	if len(missing) > 0 {
		m.status.AddStatus("telemetry headers incomplete", status.SeverityWarning, noticeTTL)
	}
	m.status.AddStatus("telemetry headers received", status.SeverityInfo, noticeTTL)
}
