package relay

import (
	"errors"
	"strconv"
	"strings"
)

// CommandGetPort asks the relay for a tunnel port instead of a board.
const CommandGetPort = "getport"

// ErrBadRequest is returned for a malformed board request. The text is
// shown to the user verbatim.
var ErrBadRequest = errors.New("Argument should be of the form boardclass:port")

// Request is a parsed board request. Serial is empty unless the user
// asked for one specific board.
type Request struct {
	Class      string
	TunnelPort int
	Serial     string
}

// ParseRequest parses "class:port" or "class:port:serial". The port is
// the client-side tunnel port previously issued by getport, echoed back
// so the relay knows which local port to bridge to the hardware server.
func ParseRequest(arg string) (Request, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Request{}, ErrBadRequest
	}
	if parts[0] == "" {
		return Request{}, ErrBadRequest
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return Request{}, ErrBadRequest
	}
	req := Request{Class: parts[0], TunnelPort: port}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Request{}, ErrBadRequest
		}
		req.Serial = parts[2]
	}
	return req, nil
}
