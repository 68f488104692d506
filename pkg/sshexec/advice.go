package sshexec

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Advice turns a failed SSH operation into a hint the user can act on.
// It returns an empty string when there is nothing specific to suggest.
func Advice(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, os.ErrNotExist) {
		return "The keyfile could not be found. Specify a keyfile with --key."
	}
	if errors.Is(err, os.ErrPermission) {
		return "The keyfile could not be read. Check its permissions."
	}
	var passErr *ssh.PassphraseMissingError
	if errors.As(err, &passErr) {
		return "The keyfile is passphrase protected. Use an unencrypted key for VLAB."
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return "The connection timed out. Check your network connection and any VPN or firewall between you and the server."
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return "The server rejected your key. Check that the username is right and that your public key is registered with the VLAB administrators."
	case strings.Contains(msg, "no such host"):
		return "The server hostname did not resolve. Check the --relay argument and your DNS settings."
	case strings.Contains(msg, "connection refused"):
		return "The server refused the connection. Check the --relay and --port arguments."
	case strings.Contains(msg, "ssh: no key found"):
		return "The keyfile does not look like a private key. Specify a keyfile with --key."
	}
	return ""
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
