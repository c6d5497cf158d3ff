// Package protocol defines the JSON control frames shared by the voice client
// and the gateway. Binary websocket frames carry audio and are not modelled here.
package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Generation channel frame types.
const (
	TypeUserMessage   = "user_message"
	TypeInterrupt     = "interrupt"
	TypeTextChunk     = "text_chunk"
	TypeGenerationEnd = "generation_end"
	TypeAudioEnd      = "audio_end"
	TypeInterrupted   = "interrupted"
	TypeError         = "error"
)

// Transcription channel frame types.
const (
	TypeTranscription = "transcription"

	// CommitText is the payload of the control frame that forces finalization.
	CommitText = "COMMIT"
)

// Frame is the union of every JSON frame on both channels. Turn is zero when a
// peer does not tag frames.
type Frame struct {
	Type      string `json:"type,omitempty"`
	Content   string `json:"content,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Turn      uint64 `json:"turn,omitempty"`
}

// UserMessage builds an outbound user turn. Timestamp is unix milliseconds.
func UserMessage(content string, turn uint64, at time.Time) Frame {
	return Frame{Type: TypeUserMessage, Content: content, Timestamp: at.UnixMilli(), Turn: turn}
}

func Interrupt() Frame { return Frame{Type: TypeInterrupt} }

func TextChunk(content string, turn uint64) Frame {
	return Frame{Type: TypeTextChunk, Content: content, Turn: turn}
}

func GenerationEnd(turn uint64) Frame { return Frame{Type: TypeGenerationEnd, Turn: turn} }

func AudioEnd(turn uint64) Frame { return Frame{Type: TypeAudioEnd, Turn: turn} }

func Interrupted(turn uint64) Frame { return Frame{Type: TypeInterrupted, Turn: turn} }

func Error(msg string, turn uint64) Frame {
	return Frame{Type: TypeError, Message: msg, Turn: turn}
}

// Commit is the transcription finalization frame. It has no type field.
func Commit() Frame { return Frame{Text: CommitText} }

func Transcription(text string) Frame {
	return Frame{Type: TypeTranscription, Text: text}
}

// IsCommit reports whether f is the transcription finalization frame.
func (f Frame) IsCommit() bool { return f.Type == "" && f.Text == CommitText }

// Parse decodes a JSON frame.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	return f, nil
}

// Params are the connection parameters carried in the URI query, since the
// browser-style socket API offers no custom headers.
type Params struct {
	SessionID  string
	PersonaID  string
	Token      string
	Codec      string
	SampleRate int
}

// Query parameter names.
const (
	ParamSession    = "session_id"
	ParamPersona    = "persona_id"
	ParamToken      = "token"
	ParamCodec      = "codec"
	ParamSampleRate = "sample_rate"
)

// URL appends p to base, keeping any query already present.
func (p Params) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	q := u.Query()
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set(ParamSession, p.SessionID)
	set(ParamPersona, p.PersonaID)
	set(ParamToken, p.Token)
	set(ParamCodec, p.Codec)
	if p.SampleRate > 0 {
		q.Set(ParamSampleRate, strconv.Itoa(p.SampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParamsFromQuery is the server-side inverse of URL.
func ParamsFromQuery(q url.Values) Params {
	rate, _ := strconv.Atoi(q.Get(ParamSampleRate))
	return Params{
		SessionID:  q.Get(ParamSession),
		PersonaID:  q.Get(ParamPersona),
		Token:      q.Get(ParamToken),
		Codec:      q.Get(ParamCodec),
		SampleRate: rate,
	}
}
