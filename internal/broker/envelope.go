package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/ccgateway/internal/response"
)

// ErrMalformedFrame is returned for inbound messages with fewer than the
// three frames [identity][delimiter][payload].
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is one inbound request with the router identity of its sender.
type Envelope struct {
	Identity []byte
	Payload  string
	// Delimiter is the second frame as received. Clients normally send it
	// empty; replies always carry an empty one.
	Delimiter []byte
}

// ParseEnvelope splits a ROUTER multipart message. The delimiter frame is not
// checked, invalid UTF-8 in the payload becomes U+FFFD, and frames after the
// payload are ignored.
func ParseEnvelope(frames [][]byte) (Envelope, error) {
	if len(frames) < 3 {
		return Envelope{}, fmt.Errorf("%w: %d frames, want at least 3", ErrMalformedFrame, len(frames))
	}
	return Envelope{
		Identity:  frames[0],
		Delimiter: frames[1],
		Payload:   strings.ToValidUTF8(string(frames[2]), "\uFFFD"),
	}, nil
}

// ReplyFrames builds [identity][""][token].
func ReplyFrames(identity []byte, token response.Token) [][]byte {
	return [][]byte{identity, {}, []byte(token)}
}
