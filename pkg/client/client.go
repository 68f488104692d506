// Package client implements the user side of a VLAB connection: fetch an
// ephemeral tunnel port from the relay, reconnect with the JTAG and web
// forwards in place, and leave the terminal attached to the board's
// serial console until the session ends.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/RTSYork/VLAB/pkg/sshexec"
)

// Flag defaults. The relay host and board class match the lab this
// client ships with; users override them on the command line or in the
// settings file.
const (
	DefaultRelay     = "rts001.cs.york.ac.uk"
	DefaultPort      = 2222
	DefaultLocalPort = 12345
	DefaultWebPort   = 9001
	DefaultBoard     = "vlab_zybo-z7"
)

// remoteWebPort is where the relay serves the web forward; the client
// bridges WebPort on the user's machine to it.
const remoteWebPort = 9001

const (
	getPortCommand = "getport"
	portHeader     = "VLABPORT:"
)

// Errors shown to the user verbatim.
var (
	ErrNoKeyfile        = errors.New("Specify a keyfile with --key.")
	ErrReplyTooShort    = errors.New("Invalid reply from VLAB server. Message too short.")
	ErrReplyWrongHeader = errors.New("Invalid reply from VLAB server. Wrong header.")
	ErrReplyMalformed   = errors.New("Invalid reply from VLAB server. Incorrect message format.")
)

// Options selects the relay, the identity, and the board for one
// connection. Serial may only be set by overlords; the relay enforces
// that.
type Options struct {
	Relay     string
	Port      int
	LocalPort int
	WebPort   int
	KeyFile   string
	User      string
	Board     string
	Serial    string
}

// Launcher runs the two-step connection. Construct with New.
type Launcher struct {
	opts   Options
	client *sshexec.Client
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// New builds a launcher for one connection attempt, attached to the
// process stdio.
func New(opts Options) *Launcher {
	return &Launcher{
		opts:   opts,
		client: sshexec.NewClient(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Run connects. Step one asks the relay for a fresh tunnel port over a
// plain exec channel; step two reconnects with both local forwards up
// and hands the terminal to the remote session. It returns when the
// session ends, however it ends.
func (l *Launcher) Run(ctx context.Context) error {
	if err := checkKeyFile(l.opts.KeyFile); err != nil {
		return err
	}
	if err := ensureFree(l.opts.LocalPort, "localport"); err != nil {
		return err
	}
	if err := ensureFree(l.opts.WebPort, "webport"); err != nil {
		return err
	}

	target := sshexec.Target{
		User:    l.opts.User,
		Host:    l.opts.Relay,
		Port:    l.opts.Port,
		KeyFile: l.opts.KeyFile,
	}

	stdout, stderr, err := l.client.Run(ctx, target, getPortCommand)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	port, err := ParsePortReply(stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(l.stdout, "Using tunnel port %d\n", port)

	return l.attach(ctx, target, port)
}

// attach opens the second connection: the JTAG forward onto the issued
// tunnel port, the web forward, and the interactive session itself.
func (l *Launcher) attach(ctx context.Context, target sshexec.Target, port int) error {
	conn, err := l.client.Dial(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()

	jtag, err := conn.Forward(loopback(l.opts.LocalPort), loopback(port))
	if err != nil {
		return err
	}
	defer jtag.Close()

	web, err := conn.Forward(loopback(l.opts.WebPort), loopback(remoteWebPort))
	if err != nil {
		return err
	}
	defer web.Close()

	return conn.Interactive(ctx, remoteArg(l.opts.Board, port, l.opts.Serial), l.stdin, l.stdout, l.stderr)
}

// ParsePortReply extracts the ephemeral port from the relay's getport
// reply, a single line of the form "VLABPORT:30412".
func ParsePortReply(reply string) (int, error) {
	reply = strings.TrimSpace(reply)
	if len(reply) <= len(portHeader) {
		return 0, ErrReplyTooShort
	}
	if !strings.HasPrefix(reply, portHeader) {
		return 0, ErrReplyWrongHeader
	}
	port, err := strconv.Atoi(reply[len(portHeader):])
	if err != nil {
		return 0, ErrReplyMalformed
	}
	return port, nil
}

// remoteArg builds the board request sent as the SSH command, in the
// form the relay parses: class:port or class:port:serial.
func remoteArg(board string, port int, serial string) string {
	if serial != "" {
		return fmt.Sprintf("%s:%d:%s", board, port, serial)
	}
	return fmt.Sprintf("%s:%d", board, port)
}

func checkKeyFile(path string) error {
	if path == "" {
		return ErrNoKeyfile
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("Keyfile %s does not exist. Specify a keyfile with --key.", path)
	}
	return nil
}

// ensureFree refuses to start when a local forward port is already
// bound, which would otherwise surface much later as an opaque tunnel
// error after the relay has already issued a port.
func ensureFree(port int, flag string) error {
	l, err := net.Listen("tcp", loopback(port))
	if err != nil {
		return fmt.Errorf("Local port %d is already in use. Choose another with --%s.", port, flag)
	}
	l.Close()
	return nil
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
