package janitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RTSYork/VLAB/pkg/container"
	"github.com/RTSYork/VLAB/pkg/sshexec"
)

const (
	hostUser      = "vlab"
	hostPort      = 22
	hostAgentPath = "/opt/VLAB/vlabhost"

	// testWindow bounds one hardware test: programming plus the wait for
	// serial output.
	testWindow = 90 * time.Second
)

// Remote is the SSH surface the janitor needs on board hosts and board
// containers.
type Remote interface {
	// RestartContainer asks the board host to destroy the board's
	// container and start a fresh one.
	RestartContainer(ctx context.Context, server, serial string) error
	// ResetBoard reprograms the FPGA with the blank design.
	ResetBoard(ctx context.Context, server string, port int) error
	// RunTest programs the test design and returns the serial output
	// captured while it ran.
	RunTest(ctx context.Context, server string, port int) (string, error)
}

// SSHRemote is the production Remote.
type SSHRemote struct {
	client  *sshexec.Client
	keyFile string
}

// NewSSHRemote wires a Remote to the janitor's private key.
func NewSSHRemote(keyFile string) *SSHRemote {
	return &SSHRemote{client: sshexec.NewClient(), keyFile: keyFile}
}

func (s *SSHRemote) RestartContainer(ctx context.Context, server, serial string) error {
	target := sshexec.Target{User: hostUser, Host: server, Port: hostPort, KeyFile: s.keyFile}
	_, _, err := s.client.Run(ctx, target, fmt.Sprintf("%s restart %s", hostAgentPath, serial))
	return err
}

func (s *SSHRemote) ResetBoard(ctx context.Context, server string, port int) error {
	target := sshexec.Target{User: "root", Host: server, Port: port, KeyFile: s.keyFile}
	_, _, err := s.client.Run(ctx, target, container.ResetCommand)
	return err
}

// RunTest programs the test bitstream and captures the UART in one remote
// shell: the reader starts before xsdb so output that arrives during
// programming is not lost, and the command's exit code is xsdb's own.
func (s *SSHRemote) RunTest(ctx context.Context, server string, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, testWindow)
	defer cancel()

	cmd := fmt.Sprintf(
		"killall -q screen; "+
			"stty -F %[1]s 115200 raw -echo; "+
			"cat %[1]s > /tmp/vlab_serial_test & CAT_PID=$!; "+
			"%[2]s; XSDB_RC=$?; "+
			"sleep 1; "+
			"kill $CAT_PID 2>/dev/null; "+
			"cat /tmp/vlab_serial_test; "+
			"exit $XSDB_RC",
		container.SerialDevice, container.TestCommand)

	target := sshexec.Target{User: "root", Host: server, Port: port, KeyFile: s.keyFile}
	stdout, stderr, err := s.client.Run(ctx, target, cmd)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout, nil
}
