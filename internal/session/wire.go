package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/reelscout/pkg/types"
)

// Sentinel errors returned by the session layer.
var (
	// ErrMalformedMessage is returned for inbound messages that cannot be
	// decoded. The session stays open.
	ErrMalformedMessage = errors.New("session: malformed message")

	// ErrCapacityExceeded is returned when a session's inbound queue is full.
	// The session is terminated.
	ErrCapacityExceeded = errors.New("session: capacity exceeded")

	// ErrTooManySessions is returned by [Manager.Open] when the concurrent
	// session cap is reached.
	ErrTooManySessions = errors.New("session: too many sessions")

	// ErrUnknownSession is returned for operations on an id that is not
	// registered, including sessions that already ended.
	ErrUnknownSession = errors.New("session: unknown session")
)

// Generic client-facing error texts. Internal detail never reaches the wire.
const (
	msgNoMatch      = "no match found"
	msgInternal     = "internal error"
	msgCapacity     = "session capacity exceeded"
	msgBusy         = "server busy, try again later"
	msgShuttingDown = "server shutting down"
)

// Kind is the type of an inbound message.
type Kind int

const (
	KindPing Kind = iota
	KindAudio
	KindFrame
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindAudio:
		return "audio"
	case KindFrame:
		return "frame"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Inbound is one decoded client message.
type Inbound struct {
	Kind Kind

	// Data is the decoded audio chunk or image frame. Empty for pings.
	Data []byte

	// Seq is the arrival sequence number, stamped by the [Manager].
	Seq uint64
}

// Outbound is one server message. Exactly one field set is used per Type.
type Outbound struct {
	Type    string                `json:"type"`
	Success *bool                 `json:"success,omitempty"`
	Data    *types.DisplayPayload `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Pong is the reply to a ping.
func Pong() Outbound { return Outbound{Type: "pong"} }

// Identified is the successful result carrying the identified title.
func Identified(p types.DisplayPayload) Outbound {
	ok := true
	return Outbound{Type: "result", Success: &ok, Data: &p}
}

// Failure is an unsuccessful result with a generic reason.
func Failure(reason string) Outbound {
	ok := false
	return Outbound{Type: "result", Success: &ok, Error: reason}
}

// ErrorAck rejects a single inbound message without ending the session.
func ErrorAck(reason string) Outbound {
	return Outbound{Type: "error", Error: reason}
}

// IsResult reports whether o is a terminal result message.
func (o Outbound) IsResult() bool { return o.Type == "result" }

type payload struct {
	Data string `json:"data"`
}

type envelope struct {
	Type string `json:"type"`
	Data *struct {
		Frame *payload `json:"frame"`
		Audio *payload `json:"audio"`
	} `json:"data"`
}

// Decode parses one inbound JSON message. Frames whose decoded size exceeds
// maxFrameBytes are rejected; zero disables the check. Every failure wraps
// [ErrMalformedMessage].
func Decode(raw []byte, maxFrameBytes int) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case "ping":
		return Inbound{Kind: KindPing}, nil
	case "audio":
		if env.Data == nil || env.Data.Audio == nil {
			return Inbound{}, fmt.Errorf("%w: audio message without payload", ErrMalformedMessage)
		}
		b, err := decodeBase64(env.Data.Audio.Data)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: KindAudio, Data: b}, nil
	case "frame":
		if env.Data == nil || env.Data.Frame == nil {
			return Inbound{}, fmt.Errorf("%w: frame message without payload", ErrMalformedMessage)
		}
		if maxFrameBytes > 0 && base64.StdEncoding.DecodedLen(len(env.Data.Frame.Data)) > maxFrameBytes+2 {
			return Inbound{}, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedMessage, maxFrameBytes)
		}
		b, err := decodeBase64(env.Data.Frame.Data)
		if err != nil {
			return Inbound{}, err
		}
		if maxFrameBytes > 0 && len(b) > maxFrameBytes {
			return Inbound{}, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedMessage, maxFrameBytes)
		}
		return Inbound{Kind: KindFrame, Data: b}, nil
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedMessage, err)
	}
	return b, nil
}
