// Package container drives the per-board server containers and carries the
// facts about the board-server image that the rest of the system relies on.
package container

import "context"

const (
	// SSHPort is where sshd listens inside every board container. It is
	// published to an ephemeral host port at creation time.
	SSHPort = 22

	// HwServerPort is where the Xilinx hardware server listens inside the
	// container. User tunnels terminate here.
	HwServerPort = 3121

	// SerialDevice is the UART device node as seen inside the container.
	SerialDevice = "/dev/ttyFPGA"

	// ToolsMount is where the host's FPGA tool installation is mounted.
	ToolsMount = "/opt/xsct"

	// ResetCommand reprograms the FPGA with the blank design.
	ResetCommand = "/opt/xsct/bin/xsdb /vlab/reset.tcl"

	// TestCommand programs the hardware-test bitstream.
	TestCommand = "/opt/xsct/bin/xsdb /vlab/test.tcl"

	// TestMagic is what the test design prints on the UART when the board
	// is healthy.
	TestMagic = "VLAB_TEST_OK"
)

// Name returns the container name used for a board serial.
func Name(serial string) string {
	return "cnt-" + serial
}

// RunSpec describes the container to create for an attached board.
type RunSpec struct {
	// Image is the board-server image to run.
	Image string
	// JTAGDev is the resolved host path of the board's JTAG interface,
	// mapped into the container at the same path.
	JTAGDev string
	// TTYDev is the resolved host path of the board's UART, mapped into
	// the container as SerialDevice.
	TTYDev string
	// ToolsDir is the host FPGA tool installation mounted at ToolsMount.
	// Empty means the image ships its own tools.
	ToolsDir string
}

// Engine creates and destroys board containers. Restarting a board means
// removing its container and running a fresh one.
type Engine interface {
	// Remove tears down a container. Removing one that does not exist is
	// not an error.
	Remove(ctx context.Context, name string) error

	// Run creates and starts a detached container per the spec, publishing
	// SSHPort on an ephemeral host port.
	Run(ctx context.Context, name string, spec RunSpec) error

	// HostPort reports the host port that SSHPort was published on.
	HostPort(ctx context.Context, name string) (int, error)

	// Exec runs a shell command inside the container and returns the
	// combined output.
	Exec(ctx context.Context, name string, cmd string) (string, error)
}
