package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/avatar"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/device"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
)

const clearScreen = "\033[H\033[2J"

func newTalkCmd(g *globals) *cobra.Command {
	var (
		fps   int
		noMic bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Hands-free conversation",
		Long: `Open a conversation on the default microphone and speaker.

Pauses of about a second end an utterance. Speaking while the assistant talks
interrupts it. Lines typed on stdin are sent as messages; /i interrupts and
/q quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return talk(ctx, g.sessionConfig(), talkOptions{
				fps:   fps,
				noMic: noMic,
				width: width,
				in:    cmd.InOrStdin(),
				out:   cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().IntVar(&fps, "fps", 15, "screen refresh rate")
	cmd.Flags().BoolVar(&noMic, "no-mic", false, "typed input only")
	cmd.Flags().IntVar(&width, "width", 80, "screen width in cells")
	return cmd
}

type talkOptions struct {
	fps   int
	noMic bool
	width int
	in    io.Reader
	out   io.Writer
}

func talk(ctx context.Context, cfg session.Config, opts talkOptions) error {
	// The render loop samples the level once per frame.
	cfg.TickInterval = -1
	speaker, err := device.NewSpeaker(device.DefaultSpeakerRate)
	if err != nil {
		return err
	}
	vs, err := session.Open(ctx, cfg, speaker)
	if err != nil {
		return err
	}
	defer vs.Close()

	status := "connected, session " + cfg.SessionID
	if !opts.noMic {
		mic, err := device.NewMicrophone()
		if err != nil {
			return err
		}
		defer mic.Close()
		if err := vs.Listen(ctx, mic); err != nil {
			return err
		}
		status = "listening on the default microphone"
	}

	coord := vs.Coordinator()
	events := coord.Subscribe(ctx)
	lines := readLines(ctx, opts.in)
	anim := avatar.NewAnimator(avatar.NewRegistry(), avatar.DefaultCount)

	fps := max(opts.fps, 1)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if opts.noMic {
					return nil
				}
				lines = nil
				continue
			}
			switch line {
			case "":
			case "/q":
				return nil
			case "/i":
				vs.Interrupt()
			default:
				// Submit may block on a reconnect; failures arrive as error events.
				go func() {
					if err := vs.Say(ctx, line); err != nil && !errors.Is(err, session.ErrClosed) {
						slog.Debug("say", "error", err)
					}
				}()
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == session.EventError {
				status = fmt.Sprintf("%s error: %v", ev.Kind, ev.Err)
			}
		case now := <-ticker.C:
			level := vs.Tick(now)
			state := coord.State()
			fmt.Fprint(opts.out, clearScreen+renderFrame(view{
				persona:  cfg.PersonaID,
				state:    state,
				level:    level,
				points:   anim.Step(state, now.Sub(start).Seconds(), level),
				messages: coord.Messages(),
				status:   status,
			}, opts.width))
		}
	}
}

// readLines scans r on its own goroutine. The channel closes at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
