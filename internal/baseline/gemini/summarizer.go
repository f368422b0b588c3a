package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/palantir/compute-module-dataset-catalog/internal/baseline"
	"github.com/palantir/compute-module-dataset-catalog/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// MaxWords bounds the requested summary length. 0 uses 60.
	MaxWords int
}

type Summarizer struct {
	client   *genai.Client
	model    string
	maxWords int
}

func New(ctx context.Context, cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	maxWords := cfg.MaxWords
	if maxWords <= 0 {
		maxWords = 60
	}
	return &Summarizer{
		client:   client,
		model:    strings.TrimSpace(cfg.Model),
		maxWords: maxWords,
	}, nil
}

func (s *Summarizer) Name() string { return s.model }

type responseSchema struct {
	Summary string `json:"summary"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
	},
	Required: []string{"summary"},
}

func (s *Summarizer) Summarize(ctx context.Context, in baseline.Input) (string, error) {
	if strings.TrimSpace(in.Text) == "" {
		return "", errors.New("empty input text")
	}

	resp, err := s.client.Models.GenerateContent(
		ctx,
		s.model,
		genai.Text(buildPrompt(in, s.maxWords)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return "", fmt.Errorf("gemini: parse structured json: %w", err)
	}
	return strings.TrimSpace(parsed.Summary), nil
}

func buildPrompt(in baseline.Input, maxWords int) string {
	return strings.TrimSpace(`
You summarize interview transcripts. Write an abstractive summary of the transcript below in at most ` + strconv.Itoa(maxWords) + ` words.

Return ONLY a single JSON object with one key:
- summary (string)

Transcript (` + in.Dataset + ` ` + in.Key + `):
` + in.Text + `
`)
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
