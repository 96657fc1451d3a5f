// Package elevenlabs provides an ElevenLabs-backed voice provider using the
// speech-to-speech REST API. It implements the voice.Provider and
// voice.Lister interfaces.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/voice"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_sts_v2"

	// maxErrorBody caps how much of an error response is kept for logging.
	maxErrorBody = 512
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the default speech-to-speech model ID. A preset with its
// own model overrides it per request.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API origin. Used for proxies and tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithLatencyOptimization sets the optimize_streaming_latency level (0-4).
func WithLatencyOptimization(level int) Option {
	return func(p *Provider) {
		p.latencyLevel = min(max(level, 0), 4)
	}
}

// Provider implements voice.Provider backed by ElevenLabs speech-to-speech.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	latencyLevel int
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// APIError is returned when ElevenLabs answers with a non-success status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Convert sends req.Audio to the speech-to-speech endpoint and returns the
// re-voiced PCM at req.SampleRate.
func (p *Provider) Convert(ctx context.Context, req voice.Request) ([]byte, error) {
	if req.Preset.VoiceID == "" {
		return nil, errors.New("elevenlabs: preset voice ID must not be empty")
	}
	body, contentType, err := p.buildForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.convertURL(req), body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: convert: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/*")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: convert HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	return out, nil
}

// convertURL builds the speech-to-speech URL for req.
func (p *Provider) convertURL(req voice.Request) string {
	q := url.Values{}
	q.Set("output_format", "pcm_"+strconv.Itoa(req.SampleRate))
	if p.latencyLevel > 0 {
		q.Set("optimize_streaming_latency", strconv.Itoa(p.latencyLevel))
	}
	return fmt.Sprintf("%s/v1/speech-to-speech/%s?%s", p.baseURL, url.PathEscape(req.Preset.VoiceID), q.Encode())
}

// buildForm encodes the multipart request body: the audio as a WAV file,
// the model ID and the voice settings as JSON.
func (p *Provider) buildForm(req voice.Request) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(req.Audio, audio.Format{Encoding: audio.EncodingPCM16, SampleRate: req.SampleRate, Channels: 1})
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: wrap audio: %w", err)
	}
	settings, err := json.Marshal(req.Preset.Settings)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: encode voice settings: %w", err)
	}
	model := p.model
	if req.Preset.Model != "" {
		model = req.Preset.Model
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: build form: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: build form: %w", err)
	}
	if err := mw.WriteField("model_id", model); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: build form: %w", err)
	}
	if err := mw.WriteField("voice_settings", string(settings)); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: build form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]voice.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toVoices(vr), nil
}

func toVoices(vr voicesResponse) []voice.Voice {
	voices := make([]voice.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, voice.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices
}

var (
	_ voice.Provider = (*Provider)(nil)
	_ voice.Lister   = (*Provider)(nil)
)
