// Package generation calls an OpenAI-compatible chat completions endpoint for one reply.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

const defaultTimeout = 60 * time.Second

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string
	Model        string
	Usage        *Usage
	FinishReason string
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	catalog *catalog.Catalog
	http    httpDoer
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(doer httpDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

func New(cfg utils.ProviderConfig, cat *catalog.Catalog, logger *zap.Logger, opts ...Option) *Client {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}

	c := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		catalog: cat,
		// the per-call context deadline bounds each request
		http:   &http.Client{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends history to model and returns the first completion. Every failure is an *Error.
func (c *Client) Generate(ctx context.Context, history []Message, model catalog.ModelID) (*Response, error) {
	params, err := c.catalog.Params(model)
	if err != nil {
		return nil, &Error{Model: model, Err: err}
	}
	if c.apiKey == "" {
		return nil, &Error{Model: model, Err: ErrMissingAPIKey}
	}

	temperature := params.Temperature
	payload := completionRequest{
		Model:       params.ProviderModel,
		Messages:    history,
		Temperature: &temperature,
		MaxTokens:   params.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Model: model, Err: fmt.Errorf("marshal completion request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Model: model, Err: fmt.Errorf("create completion request: %w", err)}
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	started := time.Now()
	response, err := c.http.Do(request)
	if err != nil {
		return nil, c.transportError(ctx, model, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, c.transportError(ctx, model, err)
	}

	c.logger.Debug("completion returned",
		zap.String("model", string(model)),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &Error{Model: model, StatusCode: response.StatusCode, Err: providerError(response.StatusCode, respBody)}
	}

	var apiResp completionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &Error{Model: model, StatusCode: response.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, &Error{Model: model, StatusCode: response.StatusCode, Err: fmt.Errorf("%w: %s", ErrProvider, apiResp.Error.Message)}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &Error{Model: model, StatusCode: response.StatusCode, Err: fmt.Errorf("%w: no choices", ErrNoCompletion)}
	}

	choice := apiResp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, &Error{Model: model, StatusCode: response.StatusCode, Err: fmt.Errorf("%w: empty content", ErrNoCompletion)}
	}

	modelName := apiResp.Model
	if modelName == "" {
		modelName = params.ProviderModel
	}

	return &Response{
		Content:      choice.Message.Content,
		Model:        modelName,
		Usage:        apiResp.Usage,
		FinishReason: choice.FinishReason,
	}, nil
}

func (c *Client) transportError(ctx context.Context, model catalog.ModelID, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Model: model, Timeout: true, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	return &Error{Model: model, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *Usage             `json:"usage"`
	Error   *apiError          `json:"error,omitempty"`
}
