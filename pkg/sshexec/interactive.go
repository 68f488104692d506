package sshexec

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Interactive runs cmd on the connection with a PTY, bridging the given
// stdio. When stdin is a terminal it is switched to raw mode for the
// duration and window size changes are propagated to the remote side.
// An empty cmd requests the remote login shell.
func (c *Conn) Interactive(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return wrapErr("session", c.target, err)
	}
	defer session.Close()

	width, height := 80, 24
	if f, ok := stdin.(*os.File); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return wrapErr("terminal", c.target, err)
			}
			defer term.Restore(fd, state)
			if w, h, err := term.GetSize(fd); err == nil {
				width, height = w, h
			}

			winch := make(chan os.Signal, 1)
			signal.Notify(winch, syscall.SIGWINCH)
			defer signal.Stop(winch)
			go func() {
				for range winch {
					if w, h, err := term.GetSize(fd); err == nil {
						session.WindowChange(h, w)
					}
				}
			}()
		}
	}

	termName := os.Getenv("TERM")
	if termName == "" {
		termName = "xterm"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termName, height, width, modes); err != nil {
		return wrapErr("pty", c.target, err)
	}

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	if cmd == "" {
		err = session.Shell()
	} else {
		err = session.Start(cmd)
	}
	if err != nil {
		return wrapErr("start", c.target, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return wrapErr("shell", c.target, err)
		}
		return nil
	case <-ctx.Done():
		session.Close()
		<-done
		return wrapErr("shell", c.target, ctx.Err())
	}
}
