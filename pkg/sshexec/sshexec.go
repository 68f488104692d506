// Package sshexec runs commands and forwards ports over SSH. The relay uses
// it to reach board containers, the checker uses it to drive hardware tests,
// and the client uses it to reach the relay.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/RTSYork/VLAB/pkg/util"
)

// DefaultTimeout bounds connection establishment and single-shot commands.
const DefaultTimeout = 30 * time.Second

// Target identifies an SSH endpoint and the key used to reach it.
type Target struct {
	User    string
	Host    string
	Port    int
	KeyFile string
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// Runner executes a command on a target and returns its output streams.
// The concrete implementation is Client; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, target Target, cmd string) (stdout, stderr string, err error)
}

// Client dials targets with public-key auth. The zero value is usable and
// applies DefaultTimeout.
type Client struct {
	Timeout time.Duration
}

// NewClient returns a Client with the default timeout.
func NewClient() *Client {
	return &Client{Timeout: DefaultTimeout}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Run dials the target, executes cmd, and tears the connection down again.
func (c *Client) Run(ctx context.Context, target Target, cmd string) (string, string, error) {
	conn, err := c.Dial(ctx, target)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()
	return conn.Run(ctx, cmd)
}

// Dial opens a connection to the target for repeated use. The caller owns
// the returned Conn and must Close it.
func (c *Client) Dial(ctx context.Context, target Target) (*Conn, error) {
	signer, err := loadKey(target.KeyFile)
	if err != nil {
		return nil, wrapErr("key", target, err)
	}

	config := &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Board containers regenerate their host keys on every restart,
		// so there is nothing stable to verify against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.timeout(),
	}

	dialer := net.Dialer{Timeout: c.timeout()}
	netConn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, wrapErr("dial", target, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, target.Addr(), config)
	if err != nil {
		netConn.Close()
		return nil, wrapErr("dial", target, err)
	}
	return &Conn{target: target, client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Conn is an established SSH connection. Sessions are created per call, so
// one Conn can serve commands, tunnels, and an interactive shell at once.
type Conn struct {
	target Target
	client *ssh.Client
}

// Run executes cmd on the connection and returns stdout and stderr.
// A non-zero exit status is reported as an error wrapping ssh.ExitError
// with both streams still populated.
func (c *Conn) Run(ctx context.Context, cmd string) (string, string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", wrapErr("session", c.target, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		if err != nil {
			return stdout.String(), stderr.String(), wrapErr("exec", c.target, err)
		}
		return stdout.String(), stderr.String(), nil
	case <-ctx.Done():
		session.Close()
		<-done
		return stdout.String(), stderr.String(), wrapErr("exec", c.target, ctx.Err())
	}
}

// Close shuts the underlying connection down, terminating any tunnels and
// sessions still using it.
func (c *Conn) Close() error {
	return c.client.Close()
}

func loadKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing key %s: %w", path, err)
	}
	return signer, nil
}

func wrapErr(op string, target Target, err error) error {
	return fmt.Errorf("ssh %s %s: %w: %w", op, target, util.ErrSSHFailure, err)
}
