package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockResolver struct {
	srvs  []*net.SRV
	err   error
	names []string
}

func (m *mockResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	m.names = append(m.names, "_"+service+"._"+proto+"."+name)
	if m.err != nil {
		return "", nil, m.err
	}
	out := make([]*net.SRV, len(m.srvs))
	copy(out, m.srvs)
	return "", out, nil
}

type mockConnector struct {
	mu    sync.Mutex
	addrs []string
	fail  map[string]error
}

func (m *mockConnector) Connect(_ context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[addr]; err != nil {
		return err
	}
	m.addrs = append(m.addrs, addr)
	return nil
}

// --- ResolveEndpoints ---

func TestResolveEndpoints_SortsByPriorityThenWeight(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "c.example.", Port: 443, Priority: 20, Weight: 100},
		{Target: "b.example.", Port: 443, Priority: 10, Weight: 10},
		{Target: "a.example.", Port: 8443, Priority: 10, Weight: 50},
	}}
	eps, err := ResolveEndpoints(context.Background(), r, SRVBlockPeer, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example:8443", "b.example:443", "c.example:443"}, eps)
	assert.Equal(t, []string{"_blockpeer._tcp.example.com"}, r.names)
}

func TestResolveEndpoints_DropsDuplicatesAndEmptyTargets(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "a.example.", Port: 1},
		{Target: "a.example", Port: 1},
		{Target: ".", Port: 2},
	}}
	eps, err := ResolveEndpoints(context.Background(), r, SRVBlockPeer, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example:1"}, eps)
}

func TestResolveEndpoints_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := ResolveEndpoints(ctx, &mockResolver{}, SRVBlockPeer, "")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	_, err = ResolveEndpoints(ctx, &mockResolver{err: errors.New("servfail")}, SRVBlockPeer, "example.com")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	_, err = ResolveEndpoints(ctx, &mockResolver{}, SRVBlockPeer, "example.com")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

// --- DNSDirectory ---

func TestDNSDirectory_DiscoverAndConnect(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "p1.example.", Port: 9000, Priority: 1},
		{Target: "p2.example.", Port: 9000, Priority: 2},
	}}
	c := &mockConnector{}
	d := NewDNSDirectory("example.com", r, c, nil)

	require.NoError(t, d.DiscoverAndConnect(context.Background(), ""))
	assert.ElementsMatch(t, []string{"p1.example:9000", "p2.example:9000"}, c.addrs)
	assert.Equal(t, []string{"_blockpeer._tcp.example.com"}, r.names)
}

func TestDNSDirectory_ScopeOverridesDomain(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{{Target: "p.example.", Port: 1}}}
	d := NewDNSDirectory("example.com", r, &mockConnector{}, nil)

	require.NoError(t, d.DiscoverAndConnect(context.Background(), "music.example.org"))
	assert.Equal(t, []string{"_blockpeer._tcp.music.example.org"}, r.names)
}

func TestDNSDirectory_PartialFailureSucceeds(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "up.example.", Port: 1},
		{Target: "down.example.", Port: 1},
	}}
	c := &mockConnector{fail: map[string]error{"down.example:1": errors.New("refused")}}
	d := NewDNSDirectory("example.com", r, c, nil)

	require.NoError(t, d.DiscoverAndConnect(context.Background(), ""))
	assert.Equal(t, []string{"up.example:1"}, c.addrs)
}

func TestDNSDirectory_AllFail(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{{Target: "down.example.", Port: 1}}}
	c := &mockConnector{fail: map[string]error{"down.example:1": errors.New("refused")}}
	d := NewDNSDirectory("example.com", r, c, nil)

	err := d.DiscoverAndConnect(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoPeersConnected)
	assert.ErrorContains(t, err, "refused")
}

func TestDNSDirectory_NoDomain(t *testing.T) {
	d := NewDNSDirectory("", &mockResolver{}, &mockConnector{}, nil)
	assert.ErrorIs(t, d.DiscoverAndConnect(context.Background(), ""), ErrNoDomain)
}

// --- DNSSECResolver against a local server ---

func startDNSServer(t *testing.T, authenticated bool) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.AuthenticatedData = authenticated
		q := req.Question[0]
		if q.Qtype == dns.TypeSRV && q.Name == "_blockpeer._tcp.example.com." {
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
				Priority: 10,
				Weight:   5,
				Port:     9443,
				Target:   "peer.example.com.",
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestNewDNSSECResolver_Defaults(t *testing.T) {
	r := NewDNSSECResolver("")
	assert.Equal(t, "8.8.8.8:53", r.Upstream)
}

func TestDNSSECResolver_LookupSRV(t *testing.T) {
	r := NewDNSSECResolver(startDNSServer(t, true))

	_, srvs, err := r.LookupSRV(context.Background(), SRVBlockPeer, "tcp", "example.com")
	require.NoError(t, err)
	require.Len(t, srvs, 1)
	assert.Equal(t, "peer.example.com", srvs[0].Target)
	assert.Equal(t, uint16(9443), srvs[0].Port)

	eps, err := ResolveEndpoints(context.Background(), r, SRVBlockPeer, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer.example.com:9443"}, eps)
}

func TestDNSSECResolver_RequiresADFlag(t *testing.T) {
	r := NewDNSSECResolver(startDNSServer(t, false))
	_, _, err := r.LookupSRV(context.Background(), SRVBlockPeer, "tcp", "example.com")
	assert.ErrorIs(t, err, ErrDNSSECValidationFailed)
}

func TestDNSSECResolver_NoRecords(t *testing.T) {
	r := NewDNSSECResolver(startDNSServer(t, true))
	_, _, err := r.LookupSRV(context.Background(), SRVBlockPeer, "tcp", "other.example")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
