package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/auth"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/env"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/generation"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/protocol"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/transcribe"
)

const (
	turnTimeout = 60 * time.Second
	frameBytes  = 640 // 20ms at 16kHz
)

type options struct {
	gateway string
	persona string
	prompt  string
	codec   string
	files   []string
	signer  *auth.Signer
}

func main() {
	env.Load()
	gateway := flag.String("gateway", env.Str("GATEWAY_URL", "ws://localhost:8000"), "gateway base WebSocket URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	audioDir := flag.String("audio-dir", "", "directory with sample .wav files; empty sends text prompts only")
	synthetic := flag.Bool("synthetic-audio", false, "send a generated tone through transcription before each turn")
	codec := flag.String("codec", "pcm", "uplink codec (pcm|g711_ulaw)")
	prompt := flag.String("prompt", "Tell me one short fact about the ocean.", "user message sent each turn")
	personaID := flag.String("persona", "nova", "persona id")
	secret := flag.String("jwt-secret", env.Str("GATEWAY_JWT_SECRET", ""), "mint session tokens with this secret")
	flag.Parse()

	opts := options{
		gateway: strings.TrimRight(*gateway, "/"),
		persona: *personaID,
		prompt:  *prompt,
		codec:   *codec,
	}
	if *secret != "" {
		opts.signer = auth.NewSigner(*secret, time.Hour)
	}
	if *audioDir != "" {
		files, err := findAudioFiles(*audioDir)
		if err != nil || len(files) == 0 {
			fmt.Fprintf(os.Stderr, "no audio files in %s, generating synthetic audio\n", *audioDir)
		}
		opts.files = files
		*synthetic = len(files) == 0
	}
	if *synthetic {
		opts.files = []string{""}
	}

	fmt.Printf("Load test: %d concurrent sessions for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s | Persona: %s | Audio: %v\n\n", opts.gateway, opts.persona, len(opts.files) > 0)

	var mu sync.Mutex
	var results []turnResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range runSession(opts, deadline) {
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type turnResult struct {
	success      bool
	asrMs        float64
	firstTextMs  float64
	firstAudioMs float64
	totalMs      float64
	err          string
}

// probe turns channel callbacks into per-turn signals.
type probe struct {
	text     chan struct{}
	audio    chan struct{}
	complete chan struct{}
	errs     chan error
}

func newProbe() *probe {
	return &probe{
		text:     make(chan struct{}, 1),
		audio:    make(chan struct{}, 1),
		complete: make(chan struct{}, 4),
		errs:     make(chan error, 4),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *probe) handlers() generation.Handlers {
	return generation.Handlers{
		OnTextChunk:  func(string) { signal(p.text) },
		OnAudio:      func([]byte) { signal(p.audio) },
		OnComplete:   func() { signal(p.complete) },
		OnError:      p.fail,
		OnDisconnect: p.fail,
	}
}

func (p *probe) fail(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

func (p *probe) reset() {
	for _, ch := range []chan struct{}{p.text, p.audio, p.complete} {
		for len(ch) > 0 {
			<-ch
		}
	}
	for len(p.errs) > 0 {
		<-p.errs
	}
}

func runSession(opts options, deadline time.Time) []turnResult {
	sessionID := uuid.NewString()
	token := ""
	if opts.signer != nil {
		var err error
		if token, err = opts.signer.Mint(sessionID, opts.persona); err != nil {
			return []turnResult{{err: fmt.Sprintf("mint: %v", err)}}
		}
	}

	p := newProbe()
	gen := generation.New(generation.Config{URL: opts.gateway + "/ws/chat", Token: token})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := gen.Connect(ctx, sessionID, opts.persona, p.handlers())
	cancel()
	if err != nil {
		return []turnResult{{err: fmt.Sprintf("connect: %v", err)}}
	}
	defer gen.Close()

	var stt *sttProbe
	if len(opts.files) > 0 {
		stt, err = dialTranscribe(opts, sessionID, token)
		if err != nil {
			return []turnResult{{err: fmt.Sprintf("transcribe: %v", err)}}
		}
		defer stt.ch.Stop()
	}

	var results []turnResult
	for turn := uint64(1); time.Now().Before(deadline); turn++ {
		results = append(results, runTurn(gen, p, stt, opts, turn))
		if gen.State() == generation.Disconnected {
			break
		}
	}
	return results
}

func runTurn(gen *generation.Channel, p *probe, stt *sttProbe, opts options, turn uint64) turnResult {
	var r turnResult
	start := time.Now()
	message := opts.prompt
	if stt != nil {
		text, err := stt.recognize(getAudioData(opts.files))
		if err != nil {
			return turnResult{err: err.Error()}
		}
		r.asrMs = ms(time.Since(start))
		if text != "" {
			message = text
		}
	}

	p.reset()
	sent := time.Now()
	if err := gen.SendMessage(message, turn); err != nil {
		return turnResult{err: fmt.Sprintf("send: %v", err)}
	}

	timeout := time.After(turnTimeout)
	// generation_end and audio_end both count as completions.
	completions := 0
	for completions < 2 {
		select {
		case <-p.text:
			if r.firstTextMs == 0 {
				r.firstTextMs = ms(time.Since(sent))
			}
		case <-p.audio:
			if r.firstAudioMs == 0 {
				r.firstAudioMs = ms(time.Since(sent))
			}
		case <-p.complete:
			completions++
		case err := <-p.errs:
			return turnResult{err: err.Error()}
		case <-timeout:
			return turnResult{err: "turn timed out"}
		}
	}
	r.totalMs = ms(time.Since(start))
	r.success = true
	return r
}

type sttProbe struct {
	ch    *transcribe.Channel
	texts chan string
	errs  chan error
}

func dialTranscribe(opts options, sessionID, token string) (*sttProbe, error) {
	s := &sttProbe{texts: make(chan string, 1), errs: make(chan error, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := transcribe.Dial(ctx, opts.gateway+"/ws/transcribe",
		protocol.Params{SessionID: sessionID, PersonaID: opts.persona, Token: token, Codec: opts.codec, SampleRate: 16000},
		transcribe.Callbacks{
			OnTranscript: func(text string) { s.texts <- text },
			OnError: func(err error) {
				select {
				case s.errs <- err:
				default:
				}
			},
		})
	if err != nil {
		return nil, err
	}
	s.ch = ch
	return s, nil
}

// recognize streams audio in real time, commits and waits for the transcript.
func (s *sttProbe) recognize(pcm []byte) (string, error) {
	for i := 0; i < len(pcm); i += frameBytes {
		end := min(i+frameBytes, len(pcm))
		if err := s.ch.SendAudio(pcm[i:end]); err != nil {
			return "", fmt.Errorf("send audio: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := s.ch.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	select {
	case text := <-s.texts:
		return text, nil
	case err := <-s.errs:
		return "", err
	case <-time.After(turnTimeout):
		return "", errors.New("transcription timed out")
	}
}

// getAudioData returns PCM16 at 16kHz. An empty path or unreadable file
// yields a synthetic tone.
func getAudioData(files []string) []byte {
	path := files[rand.Intn(len(files))]
	if path != "" {
		if data, err := loadPCM(path); err == nil {
			return data
		}
	}
	return generateSyntheticAudio(3 * time.Second)
}

func loadPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	clip, err := audio.Decode(data, audio.CodecWAV, 0)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return audio.EncodePCM16(clip.To(16000).Samples), nil
}

func generateSyntheticAudio(dur time.Duration) []byte {
	sampleRate := 16000
	numSamples := int(dur.Seconds()) * sampleRate
	buf := make([]byte, numSamples*2)

	for i := range numSamples {
		t := float64(i) / float64(sampleRate)
		sample := math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05
		val := int16(sample * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(val))
	}
	return buf
}

func findAudioFiles(dir string) ([]string, error) {
	var files []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func printSummary(results []turnResult) {
	var succeeded, failed int
	var asrAll, textAll, audioAll, e2eAll []float64
	errCounts := map[string]int{}

	for _, r := range results {
		if !r.success {
			failed++
			errCounts[r.err]++
			continue
		}
		succeeded++
		if r.asrMs > 0 {
			asrAll = append(asrAll, r.asrMs)
		}
		textAll = append(textAll, r.firstTextMs)
		audioAll = append(audioAll, r.firstAudioMs)
		e2eAll = append(e2eAll, r.totalMs)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Turns completed: %d\n", succeeded)
	fmt.Printf("Turns failed:    %d\n", failed)
	for msg, n := range errCounts {
		fmt.Printf("  %4d × %s\n", n, msg)
	}

	if len(e2eAll) == 0 {
		fmt.Println("No successful turns to report metrics")
		return
	}

	fmt.Printf("\n%-6s %10s %10s %10s\n", "Stage", "p50", "p95", "p99")
	row := func(name string, data []float64) {
		if len(data) == 0 {
			return
		}
		fmt.Printf("%-6s %8.0fms %8.0fms %8.0fms\n", name, percentile(data, 50), percentile(data, 95), percentile(data, 99))
	}
	row("ASR", asrAll)
	row("TEXT", textAll)
	row("AUDIO", audioAll)
	row("E2E", e2eAll)
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
