// Package device adapts the host audio hardware to the capture and playback
// interfaces: malgo for the microphone, oto for the speaker.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
)

// ErrBusy is returned when a second capture is opened on the same microphone.
var ErrBusy = errors.New("device: microphone already open")

// Microphone opens capture streams on the default input device.
type Microphone struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	active *capture
}

func NewMicrophone() (*Microphone, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Microphone{ctx: ctx}, nil
}

// Open starts capturing mono PCM16 at f.SampleRate. The stream ends when ctx
// is done or the capture is closed.
func (m *Microphone) Open(ctx context.Context, f audio.Format) (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.isClosed() {
		return nil, ErrBusy
	}

	c := &capture{}
	c.cond = sync.NewCond(&c.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(f.Frame.Milliseconds())

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { c.push(in) },
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	c.device = dev
	c.stopWatch = context.AfterFunc(ctx, func() { c.Close() })
	m.active = c
	return c, nil
}

// Close releases the audio context. Open captures must be closed first.
func (m *Microphone) Close() error {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.mu.Unlock()
	if active != nil {
		active.Close()
	}
	m.ctx.Uninit()
	m.ctx.Free()
	return nil
}

type capture struct {
	device    *malgo.Device
	stopWatch func() bool

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	once   sync.Once
}

func (c *capture) push(in []byte) {
	c.mu.Lock()
	if !c.closed {
		c.buf = append(c.buf, in...)
	}
	c.mu.Unlock()
	c.cond.Signal()
}

// Read blocks until samples arrive. It returns io.EOF once closed.
func (c *capture) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, io.EOF
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *capture) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.buf = nil
		c.mu.Unlock()
		c.cond.Broadcast()
		if c.stopWatch != nil {
			c.stopWatch()
		}
		c.device.Stop()
		c.device.Uninit()
	})
	return nil
}

func (c *capture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
