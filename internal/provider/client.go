package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TierPricing maps a tier to its model name and cost per 1K tokens.
type TierPricing struct {
	Model         string
	InCostPer1K   float64
	OutCostPer1K  float64
}

// Client speaks the HTTP generation API of one provider. The wire shape is
// detected from the base URL: OpenAI-style chat completions or
// Anthropic-style messages.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	tiers      map[Tier]TierPricing
	httpClient *http.Client
	limiter    *rate.Limiter
	apiType    string // "anthropic" or "openai"
	logger     *slog.Logger
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "provider_client", "provider", c.name)
	}
}

// WithTiers overrides the tier-to-model table.
func WithTiers(tiers map[Tier]TierPricing) Option {
	return func(c *Client) {
		c.tiers = tiers
	}
}

func NewClient(name, apiKey, baseURL string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	apiType := "anthropic"
	if strings.Contains(baseURL, "openai") {
		apiType = "openai"
	}

	c := &Client{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		tiers:   defaultTiers(apiType),
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(0.5), 1),
		apiType: apiType,
		logger:  slog.Default().With("component", "provider_client", "provider", name),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("provider client initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

func defaultTiers(apiType string) map[Tier]TierPricing {
	if apiType == "openai" {
		return map[Tier]TierPricing{
			TierStandard: {Model: "gpt-4o-mini", InCostPer1K: 0.00015, OutCostPer1K: 0.0006},
			TierEnhanced: {Model: "gpt-4o", InCostPer1K: 0.0025, OutCostPer1K: 0.01},
			TierMaximum:  {Model: "gpt-4.1", InCostPer1K: 0.002, OutCostPer1K: 0.008},
		}
	}
	return map[Tier]TierPricing{
		TierStandard: {Model: "claude-3-5-haiku-20241022", InCostPer1K: 0.0008, OutCostPer1K: 0.004},
		TierEnhanced: {Model: "claude-3-5-sonnet-20241022", InCostPer1K: 0.003, OutCostPer1K: 0.015},
		TierMaximum:  {Model: "claude-3-opus-20240229", InCostPer1K: 0.015, OutCostPer1K: 0.075},
	}
}

func (c *Client) Name() string { return c.name }

// Generate submits one request. Rate limiting, request construction and
// response parsing happen here; retry and failover live above in Failover.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	requestID := fmt.Sprintf("%s_%d", c.apiType, time.Now().UnixNano())
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	pricing, ok := c.tiers[req.Tier]
	if !ok {
		return nil, fmt.Errorf("no model configured for tier %d", req.Tier)
	}

	c.logger.Debug("sending generation request",
		"request_id", requestID,
		"tier", int(req.Tier),
		"model", pricing.Model,
		"prompt_length", len(req.Prompt),
		"max_tokens", req.MaxTokens,
		"force_json", req.ForceJSON)

	var resp *Response
	var err error
	if c.apiType == "openai" {
		resp, err = c.doOpenAIRequest(ctx, req, pricing)
	} else {
		resp, err = c.doAnthropicRequest(ctx, req, pricing)
	}
	if err != nil {
		c.logger.Warn("generation request failed",
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, err
	}

	resp.Cost = float64(resp.TokensIn)/1000*pricing.InCostPer1K +
		float64(resp.TokensOut)/1000*pricing.OutCostPer1K

	c.logger.Info("generation request completed",
		"request_id", requestID,
		"model", pricing.Model,
		"tokens_in", resp.TokensIn,
		"tokens_out", resp.TokensOut,
		"cost_usd", resp.Cost,
		"duration_ms", time.Since(start).Milliseconds())

	return resp, nil
}

func (c *Client) doOpenAIRequest(ctx context.Context, req Request, pricing TierPricing) (*Response, error) {
	messages := []map[string]string{}
	system := req.System
	if req.ForceJSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON object and nothing else.")
	}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":       pricing.Model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if req.ForceJSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := c.post(ctx, "/chat/completions", body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, ErrEmptyOutput
	}

	return &Response{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, req Request, pricing TierPricing) (*Response, error) {
	system := req.System
	if req.ForceJSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON object and nothing else.")
	}

	body := map[string]interface{}{
		"model": pricing.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if system != "" {
		body["system"] = system
	}

	respBody, err := c.post(ctx, "/messages", body, func(r *http.Request) {
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return nil, ErrEmptyOutput
	}

	return &Response{
		Text:      parsed.Content[0].Text,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
	}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body map[string]interface{}, setAuth func(*http.Request)) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
