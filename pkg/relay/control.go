package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/RTSYork/VLAB/pkg/container"
	"github.com/RTSYork/VLAB/pkg/sshexec"
	"github.com/RTSYork/VLAB/pkg/util"
)

const (
	// Board hosts accept management commands as this user on the
	// standard SSH port.
	hostUser = "vlab"
	hostPort = 22

	// hostAgentPath is where the host agent binary lives on every
	// board host.
	hostAgentPath = "/opt/VLAB/vlabhost"
)

// Control carries out the remote legs of a shell session: container
// management on the board host and the user-facing attachment to the
// board container itself.
type Control interface {
	// RestartContainer asks the board host to destroy the board's
	// container and start a fresh one.
	RestartContainer(ctx context.Context, server, serial string) error
	// ResetBoard reprograms the FPGA with the blank design.
	ResetBoard(ctx context.Context, server string, port int) error
	// Attach bridges the user to the board's serial console and keeps a
	// tunnel to the hardware server open until the user detaches or ctx
	// is cancelled.
	Attach(ctx context.Context, spec AttachSpec) error
}

// AttachSpec describes one attachment to a board container.
type AttachSpec struct {
	Server     string
	Port       int
	TunnelPort int
	User       string
	Class      string
	Serial     string
	LockExpiry time.Time
}

// SSHControl is the production Control: everything happens over SSH,
// using the relay's private key.
type SSHControl struct {
	client  *sshexec.Client
	keyFile string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewSSHControl wires a Control to the given key and the stdio the user
// is attached to.
func NewSSHControl(keyFile string, stdin io.Reader, stdout, stderr io.Writer) *SSHControl {
	return &SSHControl{
		client:  sshexec.NewClient(),
		keyFile: keyFile,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
}

func (s *SSHControl) hostTarget(server string) sshexec.Target {
	return sshexec.Target{User: hostUser, Host: server, Port: hostPort, KeyFile: s.keyFile}
}

func (s *SSHControl) boardTarget(server string, port int) sshexec.Target {
	return sshexec.Target{User: "root", Host: server, Port: port, KeyFile: s.keyFile}
}

func (s *SSHControl) RestartContainer(ctx context.Context, server, serial string) error {
	cmd := fmt.Sprintf("%s restart %s", hostAgentPath, serial)
	_, stderr, err := s.client.Run(ctx, s.hostTarget(server), cmd)
	if err != nil {
		if stderr != "" {
			util.Debugf("Host agent stderr: %s", stderr)
		}
		return err
	}
	return nil
}

func (s *SSHControl) ResetBoard(ctx context.Context, server string, port int) error {
	_, _, err := s.client.Run(ctx, s.boardTarget(server, port), container.ResetCommand)
	return err
}

// Attach opens one SSH connection to the board container and runs both
// halves of the session over it: the local tunnel to the hardware
// server, and the interactive screen on the board's UART. The screen
// command chain cleans up after itself and then kills the connection's
// sshd, which is what finally drops the tunnel on an orderly detach.
func (s *SSHControl) Attach(ctx context.Context, spec AttachSpec) error {
	conn, err := s.client.Dial(ctx, s.boardTarget(spec.Server, spec.Port))
	if err != nil {
		return err
	}
	defer conn.Close()

	local := fmt.Sprintf("127.0.0.1:%d", spec.TunnelPort)
	remote := fmt.Sprintf("127.0.0.1:%d", container.HwServerPort)
	tunnel, err := conn.Forward(local, remote)
	if err != nil {
		return fmt.Errorf("opening hardware server tunnel: %w", err)
	}
	defer tunnel.Close()

	if err := conn.Interactive(ctx, screenCommand(spec), s.stdin, s.stdout, s.stderr); err != nil {
		// The remote side tears the connection down on detach, so an
		// error here is the normal end of a session.
		util.Debugf("Console session on %s ended: %v", spec.Serial, err)
	}
	return nil
}

// screenCommand builds the remote command for the console session: write
// a screenrc with a status line describing the lease, attach screen to
// the UART, and tear the connection down once the user detaches.
func screenCommand(spec AttachSpec) string {
	expiry := spec.LockExpiry.Format("02/01/06 at 15:04:05 MST")
	screenrc := fmt.Sprintf(`defhstatus "%s (VLAB Shell)"\ncaption always\ncaption string " VLAB Shell [ User: %s | Lock expires: %s | Board class: %s | Board serial: %s | Server: %s ]"`,
		spec.Class, spec.User, expiry, spec.Class, spec.Serial, spec.Server)
	return fmt.Sprintf("echo -e '%s' > /vlab/vlabscreenrc;"+
		"screen -c /vlab/vlabscreenrc -qdRR - %s 115200;"+
		"killall -q screen;"+
		"pkill -SIGINT -nx sshd", screenrc, container.SerialDevice)
}
