package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

const (
	defaultPrompt  = "Summarize the key information on this page."
	systemPrompt   = "You extract information from web pages. Answer using only the page content provided."
	maxPromptRunes = 24000
)

// providerEndpoints maps llmProvider names onto OpenAI-compatible chat endpoints.
var providerEndpoints = map[string]string{
	"openai": "https://api.openai.com/v1/chat/completions",
	"groq":   "https://api.groq.com/openai/v1/chat/completions",
	"ollama": "http://localhost:11434/v1/chat/completions",
}

// LLMConfig holds server-side defaults; per-job options override each field.
type LLMConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// LLMClient talks to an OpenAI-compatible chat completions endpoint.
type LLMClient struct {
	cfg    LLMConfig
	http   *http.Client
	logger *zap.Logger
}

// NewLLMClient builds a client. httpClient may be nil.
func NewLLMClient(cfg LLMConfig, httpClient *http.Client, logger *zap.Logger) *LLMClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClient{cfg: cfg, http: httpClient, logger: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Enrich implements Enricher by prompting over the page markdown.
func (c *LLMClient) Enrich(ctx context.Context, data scrape.PageData, opts scrape.Options) (string, error) {
	return c.Complete(ctx, pageText(data), opts)
}

// Complete sends the page text with the job's prompt and returns the answer.
func (c *LLMClient) Complete(ctx context.Context, page string, opts scrape.Options) (string, error) {
	endpoint, model, key := c.resolve(opts)
	if endpoint == "" || model == "" {
		return "", fmt.Errorf("%w: endpoint and model are required", scrape.ErrLLM)
	}
	prompt := strings.TrimSpace(opts.AIPrompt)
	if prompt == "" {
		prompt = defaultPrompt
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt + "\n\n---\n\n" + truncateRunes(page, maxPromptRunes)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", scrape.ErrLLM, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", scrape.ErrLLM, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", scrape.ErrLLM, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close llm response", zap.Error(cerr))
		}
	}()
	c.logger.Debug("llm completion", zap.String("model", model), zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: %s: %s", scrape.ErrLLM, resp.Status, strings.TrimSpace(string(snippet)))
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", scrape.ErrLLM, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", scrape.ErrLLM)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// resolve picks the endpoint, model and key for a job. The configured key is
// only sent to the configured endpoint.
func (c *LLMClient) resolve(opts scrape.Options) (endpoint, model, key string) {
	endpoint, model = c.cfg.Endpoint, c.cfg.Model
	if p, ok := providerEndpoints[strings.ToLower(opts.LLMProvider)]; ok {
		endpoint = p
	}
	if opts.LLMEndpoint != "" {
		endpoint = opts.LLMEndpoint
	}
	if opts.LLMModel != "" {
		model = opts.LLMModel
	}
	switch {
	case opts.LLMAPIKey != "":
		key = opts.LLMAPIKey
	case endpoint == c.cfg.Endpoint:
		key = c.cfg.APIKey
	}
	return endpoint, model, key
}

func pageText(data scrape.PageData) string {
	var b strings.Builder
	if data.Title != "" {
		b.WriteString("# " + data.Title + "\n\n")
	}
	if data.Markdown != "" {
		b.WriteString(data.Markdown)
	} else {
		b.WriteString(data.Content)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
