package remotecmd

import (
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSendTries    = 5
	DefaultSendInterval = time.Second
	dialTimeout         = 10 * time.Second
)

// Client sends status reports to the orchestrator at Addr.
type Client struct {
	Addr     string
	Tries    int
	Interval time.Duration
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Tries: DefaultSendTries, Interval: DefaultSendInterval}
}

// SendStart reports that compilation of target has begun.
func (c *Client) SendStart(target string) error {
	return c.Send(FormatHeader(target, StartStatus))
}

// SendExit reports the compiler's exit code and output for target.
func (c *Client) SendExit(target string, code int, stdout, stderr string) error {
	return c.Send(FormatHeader(target, ExitStatus(code)) + FormatOutput(stdout, stderr))
}

// Send writes msg on a fresh connection, retrying failed attempts.
func (c *Client) Send(msg string) error {
	tries := c.Tries
	if tries < 1 {
		tries = 1
	}
	try := 1
	err := backoff.Retry(func() error {
		err := c.send(msg)
		if err != nil {
			log.WithFields(log.Fields{"addr": c.Addr, "try": try, "err": err}).Info("Failed to contact rulecomp server")
		}
		try++
		return err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Interval), uint64(tries-1)))
	return errors.Wrapf(err, "sending to %s", c.Addr)
}

func (c *Client) send(msg string) error {
	conn, err := net.DialTimeout("tcp", c.Addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(msg)); err != nil {
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return nil
}
