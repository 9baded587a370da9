package link

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openmast/groundlink/internal/status"
)

// target is one discovery destination derived from a local interface.
type target struct {
	local net.IP
	dest  *net.UDPAddr
}

// discover runs one broadcast discovery round. Every usable interface gets
// its own attempt; the first reply wins. A round that ends without a reply
// raises the discovery-timeout status exactly once and stops: re-entry is
// an external Start, by design.
func (m *Manager) discover(epoch uint64) {
	targets, err := broadcastTargets(m.cfg.DiscoveryPort)
	if err != nil {
		m.log.Error().Err(err).Msg("interface enumeration failed")
	}
	if len(targets) == 0 {
		m.failDiscovery(epoch)
		return
	}
	m.runDiscovery(epoch, targets)
}

func (m *Manager) runDiscovery(epoch uint64, targets []target) {
	if !m.setState(epoch, StateDiscovering) {
		return
	}

	attempts := make([]*attempt, 0, len(targets))
	for _, tg := range targets {
		a, err := newAttempt(tg)
		if err != nil {
			m.log.Warn().Err(err).Str("dest", tg.dest.String()).Msg("discovery socket failed")
			continue
		}
		attempts = append(attempts, a)
	}
	if len(attempts) == 0 {
		m.failDiscovery(epoch)
		return
	}

	var (
		commitMu  sync.Mutex
		committed bool
	)
	// the first reply wins; committing cancels every other attempt by
	// closing its socket (each socket closes exactly once)
	commit := func() bool {
		commitMu.Lock()
		defer commitMu.Unlock()
		if committed {
			return false
		}
		committed = true
		for _, a := range attempts {
			a.close()
		}
		return true
	}

	var wg sync.WaitGroup
	for _, a := range attempts {
		wg.Add(1)
		go func(a *attempt) {
			defer wg.Done()
			defer a.close()

			host, port, err := a.exchange(m.cfg.DiscoveryWindow)
			if err != nil {
				return
			}
			if commit() {
				m.log.Info().Str("host", host).Int("port", port).Msg("telemetry source discovered")
				m.connect(epoch, host, port)
			}
		}(a)
	}
	wg.Wait()

	commitMu.Lock()
	won := committed
	commitMu.Unlock()
	if !won {
		m.failDiscovery(epoch)
	}
}

func (m *Manager) failDiscovery(epoch uint64) {
	if !m.setState(epoch, StateTimedOut) {
		return
	}
	m.status.SetStatusCode(status.CodeDiscoveryTimeout, true)
	m.status.AddStatus("telemetry discovery timed out", status.SeverityWarning, noticeTTL)
	m.log.Warn().Msg("discovery window elapsed without reply")
}

// attempt is one in-flight discovery exchange on its own ephemeral socket.
type attempt struct {
	conn *net.UDPConn
	tg   target
	once sync.Once
}

func newAttempt(tg target) (*attempt, error) {
	conn, err := listenBroadcastUDP()
	if err != nil {
		return nil, err
	}
	return &attempt{conn: conn, tg: tg}, nil
}

// close shuts the socket exactly once, whether from a reply, the window
// expiring, or a sibling's commit.
func (a *attempt) close() {
	a.once.Do(func() { a.conn.Close() })
}

// exchange broadcasts "<local-ip>:<local-ephemeral-port>" and waits for a
// single reply within the window. The reply payload is the TCP port to use;
// the reply's sender is the host.
func (a *attempt) exchange(window time.Duration) (string, int, error) {
	local, ok := a.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", 0, fmt.Errorf("discovery: unexpected local addr %T", a.conn.LocalAddr())
	}

	payload := fmt.Sprintf("%s:%d", a.tg.local.String(), local.Port)
	if _, err := a.conn.WriteToUDP([]byte(payload), a.tg.dest); err != nil {
		return "", 0, err
	}

	if err := a.conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return "", 0, err
	}

	buf := make([]byte, 64)
	n, from, err := a.conn.ReadFromUDP(buf)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("discovery: bad reply %q from %s", buf[:n], from)
	}
	return from.IP.String(), port, nil
}

// listenBroadcastUDP binds an ephemeral IPv4 datagram socket with
// SO_BROADCAST set so the discovery message may go to a subnet broadcast
// address.
func listenBroadcastUDP() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("discovery: unexpected packet conn %T", pc)
	}
	return conn, nil
}

// broadcastTargets derives one discovery destination per usable IPv4
// interface address: the subnet broadcast (every host bit of the local
// address flipped on) at the discovery port.
func broadcastTargets(port int) ([]target, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var targets []target
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}
			bcast := broadcastAddr(ip, ipnet.Mask)
			targets = append(targets, target{
				local: ip,
				dest:  &net.UDPAddr{IP: bcast, Port: port},
			})
		}
	}
	return targets, nil
}

// broadcastAddr computes ip | ^mask.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	ip = ip.To4()
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := 0; i < net.IPv4len; i++ {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}
