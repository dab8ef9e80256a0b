package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyTranscript is returned when there is nothing to summarize.
	ErrEmptyTranscript = errors.New("transcript is empty")

	// ErrDisabled is returned when summarization is not configured.
	ErrDisabled = errors.New("summarization disabled")
)

const systemPrompt = "You summarize meeting and lecture transcripts. " +
	"Produce a concise summary with the key points, decisions, and action " +
	"items. Use plain prose, no markdown headings."

// Summarizer produces a recap of a finished transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config contains summarizer configuration.
type Config struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// OpenAISummarizer generates summaries with the OpenAI chat API.
type OpenAISummarizer struct {
	client *openai.Client
	config Config
	logger *slog.Logger
}

// NewOpenAISummarizer creates a summarizer backed by the OpenAI API.
func NewOpenAISummarizer(config Config, logger *slog.Logger) (*OpenAISummarizer, error) {
	if config.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	return &OpenAISummarizer{
		client: openai.NewClient(config.APIKey),
		config: config,
		logger: logger,
	}, nil
}

// Summarize sends the transcript for summarization and returns the recap.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.config.Model,
		MaxTokens: s.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Info("transcript summarized",
		"model", s.config.Model,
		"transcript_length", len(transcript),
		"summary_length", len(text),
		"elapsed", time.Since(start).String())
	return text, nil
}

// Disabled is the summarizer used when no API key is configured.
type Disabled struct{}

// Summarize always returns ErrDisabled.
func (Disabled) Summarize(ctx context.Context, transcript string) (string, error) {
	return "", ErrDisabled
}
