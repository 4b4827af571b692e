package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/lingobridge/realtime-go/events"
	"github.com/lingobridge/realtime-go/tool"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"
)

type clientConfig struct {
	endpoint           string
	apiKey             string
	model              string
	instruction        string
	voice              string
	temperature        float64
	maxOutputTokens    int
	transcriptionModel string
	turnDetection      *events.TurnDetection
	sampleRate         int
	latencyMS          int
	logger             *slog.Logger
	tools              []tool.Tool
	dialer             Dialer
}

func (c *clientConfig) validate() error {
	if c.dialer == nil && c.apiKey == "" {
		return usageErrorf("missing api key")
	}
	return nil
}

func (c *clientConfig) url() string {
	return fmt.Sprintf("%s?model=%s", c.endpoint, url.QueryEscape(c.model))
}

func (c *clientConfig) headers() http.Header {
	h := http.Header{}
	h.Add("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	h.Add("OpenAI-Beta", "realtime=v1")
	return h
}

// sessionUpdate builds the initial session configuration record.
func (c *clientConfig) sessionUpdate() events.SessionUpdate {
	return events.SessionUpdate{
		Modalities:              []string{"text", "audio"},
		Instructions:            c.instruction,
		Voice:                   c.voice,
		InputAudioFormat:        events.AudioFormatPCM16,
		OutputAudioFormat:       events.AudioFormatPCM16,
		InputAudioTranscription: &events.Transcription{Model: c.transcriptionModel},
		TurnDetection:           c.turnDetection,
		Tools:                   c.tools,
		ToolChoice:              tool.ChoiceAuto,
		Temperature:             c.temperature,
		MaxResponseOutputTokens: c.maxOutputTokens,
	}
}

type ClientOption func(*clientConfig)

func WithTools(tools ...tool.Tool) ClientOption {
	return func(config *clientConfig) {
		config.tools = tools
	}
}

func WithVoice(voice string) ClientOption {
	return func(config *clientConfig) {
		config.voice = voice
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

func WithTemperature(temperature float64) ClientOption {
	return func(o *clientConfig) {
		o.temperature = temperature
	}
}

func WithMaxOutputTokens(n int) ClientOption {
	return func(o *clientConfig) {
		o.maxOutputTokens = n
	}
}

func WithModel(model string) ClientOption {
	return func(o *clientConfig) {
		o.model = model
	}
}

// WithEndpoint overrides the remote endpoint URL. Authentication details
// stay opaque connection parameters; the core never inspects them.
func WithEndpoint(endpoint string) ClientOption {
	return func(o *clientConfig) {
		o.endpoint = endpoint
	}
}

func WithKey(apiKey string) ClientOption {
	return func(o *clientConfig) {
		o.apiKey = apiKey
	}
}

func WithEnvKey(vars ...string) ClientOption {
	return func(o *clientConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				o.apiKey = k
				return
			}
		}
	}
}

func WithTranscriptionModel(model string) ClientOption {
	return func(o *clientConfig) {
		o.transcriptionModel = model
	}
}

// WithTurnDetection enables server-side voice activity detection with the
// given configuration.
func WithTurnDetection(td *events.TurnDetection) ClientOption {
	return func(o *clientConfig) {
		o.turnDetection = td
	}
}

// WithoutTurnDetection disables server VAD; callers then segment speech
// themselves by requesting responses, which commits the input buffer.
func WithoutTurnDetection() ClientOption {
	return func(o *clientConfig) {
		o.turnDetection = nil
	}
}

func WithInstruction(instruction string) ClientOption {
	return func(o *clientConfig) {
		o.instruction = instruction
	}
}

// WithSampleRate sets the participant-side sample rate used by AudioIO.
func WithSampleRate(sr int) ClientOption {
	return func(config *clientConfig) {
		config.sampleRate = sr
	}
}

// WithLatency sets the audio chunking latency in milliseconds.
func WithLatency(latencyMS int) ClientOption {
	return func(o *clientConfig) {
		o.latencyMS = latencyMS
	}
}

// withDialer swaps the connection factory; tests use it to run sessions
// against an in-memory connection.
func withDialer(d Dialer) ClientOption {
	return func(o *clientConfig) {
		o.dialer = d
	}
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(o *clientConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEndpoint("wss://api.openai.com/v1/realtime"),
		WithModel("gpt-4o-realtime-preview-2025-06-03"),
		WithVoice("shimmer"),
		WithInstruction("You are a real-time interpreter. Translate everything you hear into the listener's language and say nothing else."),
		WithTemperature(0.6),
		WithMaxOutputTokens(4096),
		WithTranscriptionModel("whisper-1"),
		WithTurnDetection(&events.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.9,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		}),
		WithSampleRate(SampleRate),
		WithLatency(200),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}
