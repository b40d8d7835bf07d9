package transfer

import "fmt"

type FrameType int

const (
	FrameOther FrameType = iota
	FrameText
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	}
	return "other"
}

// Close codes from RFC 6455 used by sessions.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

type CloseReason struct {
	Code        int
	Description string
}

func (r *CloseReason) String() string {
	if r == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d %s", r.Code, r.Description)
}

// Frame is one inbound unit from the peer. Close is set only for FrameClose, and may be nil
// when the peer closed without a reason.
type Frame struct {
	Type  FrameType
	Data  []byte
	Close *CloseReason
}

// Conn is a duplex message stream to one client. Inbound frames arrive on a channel so that a
// session can wait on them alongside its timer and outbound queue. The send methods are only
// ever called from the session goroutine.
type Conn interface {
	// Frames is closed once the peer's stream has ended, after any FrameClose.
	Frames() <-chan Frame
	WriteText(data []byte) error
	Ping(data []byte) error
	Pong(data []byte) error
	// Close sends a close frame with the reason (an empty one if reason is nil) and releases
	// the transport. Safe to call more than once.
	Close(reason *CloseReason) error
}
