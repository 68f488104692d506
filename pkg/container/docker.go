package container

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/RTSYork/VLAB/pkg/util"
)

// Docker implements Engine through the docker command line, which is how
// the board hosts are provisioned.
type Docker struct{}

func (Docker) Remove(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return &util.ContainerError{Name: name, Op: "remove", Output: strings.TrimSpace(string(out))}
	}
	return nil
}

func (Docker) Run(ctx context.Context, name string, spec RunSpec) error {
	args := []string{
		"run", "-d",
		"--name", name,
		"-p", strconv.Itoa(SSHPort),
		"--device", spec.JTAGDev,
		"--device", spec.TTYDev + ":" + SerialDevice,
	}
	if spec.ToolsDir != "" {
		args = append(args, "-v", spec.ToolsDir+":"+ToolsMount)
	}
	args = append(args, spec.Image)

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return &util.ContainerError{Name: name, Op: "run", Output: strings.TrimSpace(string(out))}
	}
	return nil
}

func (Docker) HostPort(ctx context.Context, name string) (int, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", name, strconv.Itoa(SSHPort)).CombinedOutput()
	if err != nil {
		return 0, &util.ContainerError{Name: name, Op: "port", Output: strings.TrimSpace(string(out))}
	}
	port, err := ParsePortMapping(string(out))
	if err != nil {
		return 0, &util.ContainerError{Name: name, Op: "port", Output: err.Error()}
	}
	return port, nil
}

func (Docker) Exec(ctx context.Context, name string, cmd string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "exec", name, "/bin/sh", "-c", cmd).CombinedOutput()
	if err != nil {
		return string(out), &util.ContainerError{Name: name, Op: "exec", Output: strings.TrimSpace(string(out))}
	}
	return string(out), nil
}

// ParsePortMapping extracts the host port from docker port output such as
// "0.0.0.0:32768" or "0.0.0.0:32768\n[::]:32768". Only the first mapping
// is considered.
func ParsePortMapping(out string) (int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	idx := strings.LastIndex(line, ":")
	if idx < 0 || idx == len(line)-1 {
		return 0, fmt.Errorf("unexpected port mapping %q", line)
	}
	port, err := strconv.Atoi(line[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected port mapping %q", line)
	}
	return port, nil
}
