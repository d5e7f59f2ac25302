// Package ruleserver accepts status reports from rule compile workers over TCP.
//
// A report is one connection: a header line followed by a body, written by the
// worker before it closes its side. Rule compile headers are handed to a
// Handler, anything else to the GenericHandler.
package ruleserver

import (
	"bufio"
	"context"
	"io/ioutil"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/remotecmd"
)

const (
	DefaultMaxConnections       = 64
	DefaultConnectionsPerSecond = 100
	readTimeout                 = time.Minute
)

// Handler receives rule compile reports. host is the short name of the sender.
type Handler interface {
	HandleRuleCompile(target, status, body, host string)
}

type HandlerFunc func(target, status, body, host string)

func (f HandlerFunc) HandleRuleCompile(target, status, body, host string) {
	f(target, status, body, host)
}

// GenericHandler receives every other request.
type GenericHandler interface {
	HandleGeneric(header, body, host string)
}

// Options tune a Server. Zero values take the defaults.
//
// Generic - handler for non rule compile requests, they are logged and dropped when nil
// LookupAddr - reverse DNS, net.LookupAddr by default
type Options struct {
	MaxConnections       int
	ConnectionsPerSecond float64
	Generic              GenericHandler
	LookupAddr           func(addr string) ([]string, error)
}

type Server struct {
	ln      net.Listener
	handler Handler
	opts    Options
	limiter *rate.Limiter
	stat    stats.StatsReceiver

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	serving bool
}

// Listen binds addr. Serve must be called to start accepting.
func Listen(addr string, handler Handler, opts Options, stat stats.StatsReceiver) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	return NewServer(ln, handler, opts, stat), nil
}

// NewServer serves on an existing listener.
func NewServer(ln net.Listener, handler Handler, opts Options, stat stats.StatsReceiver) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.ConnectionsPerSecond <= 0 {
		opts.ConnectionsPerSecond = DefaultConnectionsPerSecond
	}
	if opts.LookupAddr == nil {
		opts.LookupAddr = net.LookupAddr
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ln:      netutil.LimitListener(ln, opts.MaxConnections),
		handler: handler,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.ConnectionsPerSecond), opts.MaxConnections),
		stat:    stat,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Shutdown, handling each on its own goroutine.
// It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	s.serving = true
	s.mu.Unlock()
	defer close(s.done)
	log.WithFields(log.Fields{"addr": s.Addr().String()}).Info("Rule compile server listening")
	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			break
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.WithFields(log.Fields{"err": err}).Info("Temporary accept error")
				continue
			}
			s.conns.Wait()
			return errors.Wrap(err, "accepting worker connection")
		}
		s.stat.Counter(stats.RuleServerConnectionsCounter).Inc(1)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(conn)
		}()
	}
	s.conns.Wait()
	log.Info("Rule compile server stopped")
	return nil
}

// Shutdown stops accepting and waits for Serve to return if it was running.
func (s *Server) Shutdown() {
	s.stop()
	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()
	if !serving {
		return
	}
	select {
	case <-s.done:
	case <-time.After(readTimeout):
		log.Error("Timed out waiting for rule compile server handlers")
	}
}

func (s *Server) stop() {
	s.once.Do(func() {
		s.cancel()
		s.ln.Close()
	})
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	reader := bufio.NewReader(conn)
	header, err := reader.ReadString('\n')
	if err != nil && header == "" {
		log.WithFields(log.Fields{"remote": conn.RemoteAddr().String(), "err": err}).Info("Empty request")
		return
	}
	body, err := ioutil.ReadAll(reader)
	if err != nil {
		log.WithFields(log.Fields{"remote": conn.RemoteAddr().String(), "err": err}).Error("Failed reading request body")
		s.stat.Counter(stats.RuleServerBadRequestCounter).Inc(1)
		return
	}
	header = strings.TrimRight(header, "\r\n")
	if header == remotecmd.TerminateRequest {
		log.Info("Received request to terminate server")
		go s.stop()
		return
	}
	host := s.hostName(conn.RemoteAddr())

	target, status, ok := remotecmd.ParseHeader(header)
	if !ok {
		s.stat.Counter(stats.RuleServerGenericCounter).Inc(1)
		if s.opts.Generic == nil {
			log.WithFields(log.Fields{"header": header, "host": host}).Info("Ignoring request with unknown header")
			return
		}
		s.opts.Generic.HandleGeneric(header, string(body), host)
		return
	}
	if status == remotecmd.StartStatus {
		s.stat.Counter(stats.RuleServerStartCounter).Inc(1)
	} else if _, ok := remotecmd.ParseExitStatus(status); ok {
		s.stat.Counter(stats.RuleServerExitCodeCounter).Inc(1)
	} else {
		s.stat.Counter(stats.RuleServerBadRequestCounter).Inc(1)
		log.WithFields(log.Fields{"target": target, "status": status, "host": host}).Error("Unknown rule compile status")
		return
	}
	log.WithFields(log.Fields{"target": target, "status": status, "host": host}).Debug("Rule compile report")
	s.handler.HandleRuleCompile(target, status, string(body), host)
}

// hostName resolves the peer to its first host name label, or its IP.
func (s *Server) hostName(addr net.Addr) string {
	ip := addr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	names, err := s.opts.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ip
	}
	name := strings.TrimSuffix(names[0], ".")
	if idx := strings.Index(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}

// AdvertisedAddress is how workers should reach a server bound at addr: an
// unspecified host is replaced by hostname.
func AdvertisedAddress(addr net.Addr, hostname string) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = hostname
	}
	return net.JoinHostPort(host, port)
}
