// Package transcribe streams microphone frames to a recognition service and
// surfaces the recognized text.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
)

const channelName = "transcribe"

// ErrStopped is returned by sends after Stop or after the connection dropped.
var ErrStopped = errors.New("transcribe: channel stopped")

// Callbacks receive channel output on the read goroutine.
type Callbacks struct {
	OnTranscript func(text string)
	// OnError is called at most once, when the connection fails. The channel
	// does not reconnect.
	OnError func(err error)
}

// Channel is one open transcription connection.
type Channel struct {
	conn     *websocket.Conn
	cb       Callbacks
	codec    audio.Codec
	inRate   int
	writeMu  sync.Mutex
	closed   atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// Dial opens the connection. p.Codec selects the uplink encoding; frames given
// to SendAudio are always PCM16 at p.SampleRate.
func Dial(ctx context.Context, baseURL string, p protocol.Params, cb Callbacks) (*Channel, error) {
	if p.Codec == "" {
		p.Codec = string(audio.CodecPCM)
	}
	uplink := p
	if audio.Codec(p.Codec) == audio.CodecG711Ulaw {
		uplink.SampleRate = 8000
	}
	wsURL, err := uplink.URL(baseURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		metrics.ChannelErrors.WithLabelValues(channelName, "dial").Inc()
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("transcribe connect (status %d): %s: %w", resp.StatusCode, body, err)
		}
		return nil, fmt.Errorf("transcribe connect: %w", err)
	}

	c := &Channel{
		conn:   conn,
		cb:     cb,
		codec:  audio.Codec(p.Codec),
		inRate: p.SampleRate,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	slog.Info("transcription channel open", "session_id", p.SessionID, "codec", p.Codec)
	return c, nil
}

// SendAudio forwards one PCM16 capture frame.
func (c *Channel) SendAudio(frame []byte) error {
	data, err := c.encode(frame)
	if err != nil {
		return err
	}
	if err := c.write(websocket.BinaryMessage, data); err != nil {
		return err
	}
	metrics.ChannelFrames.WithLabelValues(channelName, "out", "audio").Inc()
	return nil
}

// Commit asks the service to finalize the current utterance.
func (c *Channel) Commit() error {
	data, err := json.Marshal(protocol.Commit())
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.ChannelFrames.WithLabelValues(channelName, "out", "commit").Inc()
	return nil
}

// Stop closes the socket. Safe to call more than once.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	<-c.done
}

// Done is closed when the read loop exits.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) encode(frame []byte) ([]byte, error) {
	if c.codec != audio.CodecG711Ulaw {
		return frame, nil
	}
	clip, err := audio.Decode(frame, audio.CodecPCM, c.inRate)
	if err != nil {
		return nil, err
	}
	return audio.Encode(clip.To(8000).Samples, audio.CodecG711Ulaw)
}

func (c *Channel) write(kind int, data []byte) error {
	if c.closed.Load() {
		return ErrStopped
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(kind, data); err != nil {
		metrics.ChannelErrors.WithLabelValues(channelName, "write").Inc()
		return fmt.Errorf("transcribe write: %w", err)
	}
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if kind != websocket.TextMessage {
			slog.Warn("transcription channel: unexpected binary frame", "bytes", len(data))
			continue
		}
		f, err := protocol.Parse(data)
		if err != nil {
			slog.Warn("transcription channel: bad frame", "error", err)
			continue
		}
		if f.Type != protocol.TypeTranscription {
			slog.Warn("transcription channel: unexpected frame", "type", f.Type)
			continue
		}
		metrics.ChannelFrames.WithLabelValues(channelName, "in", f.Type).Inc()
		if c.cb.OnTranscript != nil {
			c.cb.OnTranscript(f.Text)
		}
	}
}

func (c *Channel) fail(err error) {
	if c.closed.Swap(true) {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Info("transcription channel closed by peer")
		err = fmt.Errorf("transcribe: closed by peer: %w", err)
	} else {
		slog.Error("transcription channel failed", "error", err)
	}
	metrics.ChannelErrors.WithLabelValues(channelName, "read").Inc()
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
