package transport

import (
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Registry owns at most one live connection per logical name. Adding a
// connection under an existing name tears the old one down first.
type Registry struct {
	log zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:   log.With().Str("comp", "transport").Logger(),
		conns: make(map[string]*Conn),
	}
}

// Add creates the named connection handle. The handle does not dial until
// Dial is called, so callers can register handlers race-free.
func (r *Registry) Add(name, host string, port int) *Conn {
	r.RemoveAll(name)

	c := &Conn{
		name:     name,
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		log:      r.log.With().Str("conn", name).Logger(),
		handlers: make(map[Event][]func([]byte)),
	}
	c.onDone = func() { r.drop(name, c) }

	r.mu.Lock()
	r.conns[name] = c
	r.mu.Unlock()
	return c
}

// Get returns the live connection under name, or nil.
func (r *Registry) Get(name string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[name]
}

// RemoveAll closes and unregisters any connection under name.
func (r *Registry) RemoveAll(name string) {
	r.mu.Lock()
	c := r.conns[name]
	delete(r.conns, name)
	r.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// drop unregisters c only if it is still the current holder of name; a
// replacement added under the same name stays untouched.
func (r *Registry) drop(name string, c *Conn) {
	r.mu.Lock()
	if r.conns[name] == c {
		delete(r.conns, name)
	}
	r.mu.Unlock()
}
