package link

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmast/groundlink/internal/status"
	"github.com/openmast/groundlink/internal/telemetry"
)

func TestBroadcastAddr(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		mask net.IPMask
		want string
	}{
		{"slash 24", "192.168.1.37", net.CIDRMask(24, 32), "192.168.1.255"},
		{"slash 16", "172.16.5.9", net.CIDRMask(16, 32), "172.16.255.255"},
		{"slash 8", "10.1.2.3", net.CIDRMask(8, 32), "10.255.255.255"},
		{"slash 30", "192.168.1.5", net.CIDRMask(30, 32), "192.168.1.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := broadcastAddr(net.ParseIP(tt.ip), tt.mask)
			if got.String() != tt.want {
				t.Errorf("broadcastAddr(%s) = %s, want %s", tt.ip, got, tt.want)
			}
		})
	}
}

func discoveryManager(t *testing.T, window time.Duration) (*Manager, *fakeRegistry, *status.Register) {
	t.Helper()
	reg := &fakeRegistry{}
	sink := status.NewRegister()
	store := telemetry.New(zerolog.Nop())
	m := New(Config{
		DiscoveryPort:   4445,
		DiscoveryWindow: window,
	}, reg, sink, store, zerolog.Nop())
	return m, reg, sink
}

// startResponder runs a fake flight-data source: on any datagram it answers
// with reply after delay.
func startResponder(t *testing.T, reply string, delay time.Duration) *net.UDPAddr {
	t.Helper()
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("responder listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 256)
		for {
			_, from, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			time.Sleep(delay)
			pc.WriteToUDP([]byte(reply), from)
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr)
}

func loopbackTarget(dest *net.UDPAddr) target {
	return target{local: net.IPv4(127, 0, 0, 1), dest: dest}
}

func TestDiscoveryReplyTransitionsToConnecting(t *testing.T) {
	m, reg, _ := discoveryManager(t, time.Second)
	dest := startResponder(t, "9200", 0)

	m.runDiscovery(m.currentEpoch(), []target{loopbackTarget(dest)})

	if reg.addCount() != 1 {
		t.Fatalf("adds = %d, want 1", reg.addCount())
	}
	if reg.adds[0].host != "127.0.0.1" || reg.adds[0].port != 9200 {
		t.Errorf("connected to %s:%d, want 127.0.0.1:9200", reg.adds[0].host, reg.adds[0].port)
	}
	if got := m.State(); got != StateConnecting {
		t.Fatalf("state = %v, want CONNECTING", got)
	}
}

func TestFirstReplyWins(t *testing.T) {
	m, reg, _ := discoveryManager(t, time.Second)
	fast := startResponder(t, "9100", 0)
	slow := startResponder(t, "9999", 300*time.Millisecond)

	m.runDiscovery(m.currentEpoch(), []target{loopbackTarget(slow), loopbackTarget(fast)})

	if reg.addCount() != 1 {
		t.Fatalf("adds = %d, want exactly one connection", reg.addCount())
	}
	if reg.adds[0].port != 9100 {
		t.Errorf("connected to port %d, want the fast responder 9100", reg.adds[0].port)
	}
}

func TestDiscoveryTimeoutRaisedExactlyOnce(t *testing.T) {
	m, reg, sink := discoveryManager(t, 100*time.Millisecond)

	// nobody listens on these
	dead1 := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	dead2 := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10}

	m.runDiscovery(m.currentEpoch(), []target{loopbackTarget(dead1), loopbackTarget(dead2)})

	if got := m.State(); got != StateTimedOut {
		t.Fatalf("state = %v, want TIMED_OUT", got)
	}
	if !sink.StatusCode(status.CodeDiscoveryTimeout) {
		t.Error("DISCOVERY_TIMEOUT should be set")
	}
	if reg.addCount() != 0 {
		t.Error("no connection may be opened after a timed-out round")
	}

	count := 0
	for _, n := range sink.Notices() {
		if n.Message == "telemetry discovery timed out" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("timeout notices = %d, want exactly 1", count)
	}
}

func TestMalformedReplyIsIgnored(t *testing.T) {
	m, reg, sink := discoveryManager(t, 150*time.Millisecond)
	dest := startResponder(t, "not-a-port", 0)

	m.runDiscovery(m.currentEpoch(), []target{loopbackTarget(dest)})

	if reg.addCount() != 0 {
		t.Fatal("malformed reply must not open a connection")
	}
	if !sink.StatusCode(status.CodeDiscoveryTimeout) {
		t.Error("round should end in discovery timeout")
	}
}

func TestStaleDiscoveryRoundDoesNothing(t *testing.T) {
	m, reg, sink := discoveryManager(t, 100*time.Millisecond)
	dest := startResponder(t, "9200", 0)

	// epoch 99 never existed; every transition must be dropped
	m.runDiscovery(99, []target{loopbackTarget(dest)})

	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %v, want IDLE", got)
	}
	if reg.addCount() != 0 {
		t.Error("stale round must not connect")
	}
	if sink.StatusCode(status.CodeDiscoveryTimeout) {
		t.Error("stale round must not raise statuses")
	}
}
