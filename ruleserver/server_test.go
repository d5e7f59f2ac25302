package ruleserver

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/remotecmd"
)

type report struct {
	target, status, body, host string
}

type recorder struct {
	mu      sync.Mutex
	reports []report
	generic []string
	got     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) HandleRuleCompile(target, status, body, host string) {
	r.mu.Lock()
	r.reports = append(r.reports, report{target, status, body, host})
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) HandleGeneric(header, body, host string) {
	r.mu.Lock()
	r.generic = append(r.generic, header+"|"+body)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func startServer(t *testing.T, rec *recorder) (*Server, stats.StatsRegistry, chan error) {
	statsRegistry := stats.NewFinagleStatsRegistry()
	regFn := func() stats.StatsRegistry { return statsRegistry }
	stat, _ := stats.NewCustomStatsReceiver(regFn, 0)

	s, err := Listen("127.0.0.1:0", rec, Options{
		Generic:    rec,
		LookupAddr: func(string) ([]string, error) { return []string{"worker7.example.com."}, nil },
	}, stat)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	return s, statsRegistry, errCh
}

func send(t *testing.T, s *Server, msg string) {
	c := &remotecmd.Client{Addr: s.Addr().String(), Tries: 1}
	require.NoError(t, c.Send(msg))
}

func TestRuleCompileReports(t *testing.T) {
	rec := newRecorder()
	s, statsRegistry, errCh := startServer(t, rec)

	send(t, s, remotecmd.FormatHeader("/tmp/R", remotecmd.StartStatus))
	rec.wait(t)
	send(t, s, remotecmd.FormatHeader("/tmp/R", remotecmd.ExitStatus(0))+remotecmd.FormatOutput("ok\n", ""))
	rec.wait(t)
	send(t, s, "remotecmd.py:/tmp/R:bogus\n")
	send(t, s, "texttest_slave:foo\nhello")
	rec.wait(t)

	s.Shutdown()
	require.NoError(t, <-errCh)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []report{
		{"/tmp/R", "start", "", "worker7"},
		{"/tmp/R", "exitcode=0", "ok\n|STD_ERR|", "worker7"},
	}, rec.reports)
	assert.Equal(t, []string{"texttest_slave:foo|hello"}, rec.generic)

	stats.VerifyStats("server", statsRegistry, t, map[string]stats.Rule{
		stats.RuleServerConnectionsCounter: {Checker: stats.Int64EqTest, Value: 4},
		stats.RuleServerStartCounter:       {Checker: stats.Int64EqTest, Value: 1},
		stats.RuleServerExitCodeCounter:    {Checker: stats.Int64EqTest, Value: 1},
		stats.RuleServerBadRequestCounter:  {Checker: stats.Int64EqTest, Value: 1},
		stats.RuleServerGenericCounter:     {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestTerminateRequest(t *testing.T) {
	rec := newRecorder()
	s, _, errCh := startServer(t, rec)
	send(t, s, remotecmd.TerminateRequest+"\n")
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	s.Shutdown()
}

func TestShutdownWithoutServe(t *testing.T) {
	s, err := Listen("127.0.0.1:0", HandlerFunc(func(_, _, _, _ string) {}), Options{}, nil)
	require.NoError(t, err)
	s.Shutdown()
}

func TestHostNameFallsBackToIP(t *testing.T) {
	s := NewServer(nil, nil, Options{LookupAddr: func(string) ([]string, error) { return nil, &net.DNSError{Err: "no such host"} }}, nil)
	addr := &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 4000}
	assert.Equal(t, "10.1.2.3", s.hostName(addr))
}

func TestAdvertisedAddress(t *testing.T) {
	assert.Equal(t, "build1:4000", AdvertisedAddress(&net.TCPAddr{IP: net.IPv4zero, Port: 4000}, "build1"))
	assert.Equal(t, "10.0.0.5:4000", AdvertisedAddress(&net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}, "build1"))
}
