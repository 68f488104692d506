package sshexec

import (
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Tunnel forwards a local TCP address to a remote address through an
// established SSH connection. The relay uses one per shell to bridge the
// user's tunnel port to the hardware server inside a board container.
type Tunnel struct {
	localAddr  string
	remoteAddr string
	client     *ssh.Client
	listener   net.Listener
	done       chan struct{}
	wg         sync.WaitGroup
}

// Forward opens a listener on localAddr and forwards each connection to
// remoteAddr on the far side of the Conn. Pass a ":0" port to let the
// kernel pick one; LocalAddr reports the bound address.
func (c *Conn) Forward(localAddr, remoteAddr string) (*Tunnel, error) {
	listener, err := net.Listen("tcp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("tunnel listen %s: %w", localAddr, err)
	}

	t := &Tunnel{
		localAddr:  listener.Addr().String(),
		remoteAddr: remoteAddr,
		client:     c.client,
		listener:   listener,
		done:       make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// LocalAddr returns the bound listener address, e.g. "127.0.0.1:30412".
func (t *Tunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops the listener and waits for in-flight forwards to finish.
// The underlying SSH connection stays open; it belongs to the Conn.
func (t *Tunnel) Close() error {
	close(t.done)
	err := t.listener.Close()
	t.wg.Wait()
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}
