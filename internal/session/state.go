// Package session coordinates one voice conversation: it owns the interaction
// state, the conversation transcript and the barge-in arbitration between the
// generation channel and the playback scheduler.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/generation"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
)

// State is the interaction state. Exactly one is active at a time.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
)

// States lists every state, in declaration order.
var States = []State{Idle, Listening, Thinking, Speaking}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"is_streaming"`
	Turn      uint64    `json:"turn,omitempty"`
}

// Conversation is the ordered transcript of one session.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

var (
	// ErrClosed is returned after the coordinator or session has been closed.
	ErrClosed = errors.New("session: closed")
	// ErrOrdering marks inbound traffic with no turn to attach to.
	ErrOrdering = errors.New("session: frame outside an active turn")
)

type ErrorKind string

const (
	KindCapture      ErrorKind = "capture"
	KindConnectivity ErrorKind = "connectivity"
	KindDecode       ErrorKind = "decode"
	KindProtocol     ErrorKind = "protocol"
	KindOrdering     ErrorKind = "ordering"
)

// Classify maps a pipeline error onto the error taxonomy. Anything
// unrecognised is treated as a connectivity failure.
func Classify(err error) ErrorKind {
	var (
		capErr   *audio.CaptureError
		protoErr *generation.ProtocolError
		decErr   *playback.DecodeError
	)
	switch {
	case errors.As(err, &capErr):
		return KindCapture
	case errors.As(err, &protoErr):
		return KindProtocol
	case errors.As(err, &decErr):
		return KindDecode
	case errors.Is(err, ErrOrdering):
		return KindOrdering
	}
	return KindConnectivity
}
