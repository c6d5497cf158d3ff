package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/audio"
	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/metrics"
)

// ASRSampleRate is the rate whisper models expect.
const ASRSampleRate = 16000

// ASRTranscriber produces transcriptions from 16 kHz mono samples.
type ASRTranscriber interface {
	Transcribe(ctx context.Context, samples []float32) (*ASRResult, error)
}

type ASRResult struct {
	Text      string  `json:"text"`
	Language  string  `json:"language,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// ASRRouter dispatches to an ASR backend by engine name.
type ASRRouter struct {
	*Router[ASRTranscriber]
}

func NewASRRouter(backends map[string]ASRTranscriber, fallback string) *ASRRouter {
	return &ASRRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the backend for engine and records stage latency.
func (r *ASRRouter) Transcribe(ctx context.Context, samples []float32, engine string) (*ASRResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := backend.Transcribe(ctx, samples)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(start).Seconds())
	return res, nil
}

// MultipartASRClient posts a WAV file to a whisper-compatible HTTP endpoint.
// Backends differ only in path: /inference for whisper.cpp, /transcribe for
// the faster-whisper service.
type MultipartASRClient struct {
	url      string
	endpoint string
	label    string
	client   *http.Client
}

// NewWhisperCppClient targets a whisper.cpp server.
func NewWhisperCppClient(url string, poolSize int) *MultipartASRClient {
	return &MultipartASRClient{
		url:      url,
		endpoint: "/inference",
		label:    "whisper.cpp",
		client:   NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// NewFasterWhisperClient targets the faster-whisper STT service.
func NewFasterWhisperClient(url string, poolSize int) *MultipartASRClient {
	return &MultipartASRClient{
		url:      url,
		endpoint: "/transcribe",
		label:    "faster-whisper",
		client:   NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Warmup sends one second of silence to check the server responds.
func (c *MultipartASRClient) Warmup(ctx context.Context) error {
	_, err := c.Transcribe(ctx, make([]float32, ASRSampleRate))
	if err != nil {
		return fmt.Errorf("%s warmup: %w", c.label, err)
	}
	return nil
}

func (c *MultipartASRClient) Transcribe(ctx context.Context, samples []float32) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return nil, fmt.Errorf("%s request: %w", c.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return nil, fmt.Errorf("%s status %d: %s", c.label, resp.StatusCode, respBody)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.label, err)
	}

	return &ASRResult{
		Text:      result.Text,
		Language:  result.Language,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, ASRSampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
