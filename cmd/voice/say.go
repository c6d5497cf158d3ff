package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/device"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/playback"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
)

func newSayCmd(g *globals) *cobra.Command {
	var (
		mute    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "say <message>",
		Short: "Send one message and play the reply",
		Long: `Send one typed message, stream the reply text to stdout and play the
reply audio. The command returns once playback has finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var sink playback.Sink = clockSink{}
			if !mute {
				speaker, err := device.NewSpeaker(device.DefaultSpeakerRate)
				if err != nil {
					return err
				}
				sink = speaker
			}
			return say(ctx, g.sessionConfig(), sink, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&mute, "mute", false, "do not open the speaker; wait out the audio silently")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}

// say runs one turn and streams its text to out.
func say(ctx context.Context, cfg session.Config, sink playback.Sink, text string, out io.Writer) error {
	vs, err := session.Open(ctx, cfg, sink)
	if err != nil {
		return err
	}
	defer vs.Close()

	events := vs.Coordinator().Subscribe(ctx)
	if err := vs.Say(ctx, text); err != nil {
		return err
	}

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			vs.Interrupt()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return lastErr
			}
			switch ev.Type {
			case session.EventTextDelta:
				fmt.Fprint(out, ev.Text)
			case session.EventError:
				lastErr = ev.Err
				fmt.Fprintf(os.Stderr, "%s error: %v\n", ev.Kind, ev.Err)
			case session.EventState:
				if ev.State == session.Idle && ev.Prev != session.Idle {
					fmt.Fprintln(out)
					if lastErr != nil && ev.Prev == session.Thinking {
						return lastErr
					}
					return nil
				}
			}
		}
	}
}

// clockSink plays nothing but takes as long as the clip would.
type clockSink struct{}

func (clockSink) Play(clip audio.Clip) (playback.Voice, error) {
	if len(clip.Samples) == 0 {
		return nil, audio.ErrEmptyChunk
	}
	v := &clockVoice{done: make(chan struct{})}
	time.AfterFunc(clip.Duration(), v.Stop)
	return v, nil
}

type clockVoice struct {
	done chan struct{}
	once sync.Once
}

func (v *clockVoice) Done() <-chan struct{} { return v.done }

func (v *clockVoice) Stop() { v.once.Do(func() { close(v.done) }) }
