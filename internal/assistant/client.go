// Package assistant is the client for the external assistant service that
// turns a conversation plus the current template into a reply and an optional
// template patch.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/tokens"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "storefront-studio/1.0"
	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("github.com/tjfontaine/storefront-studio/internal/assistant")

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the bearer token sent with every exchange.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithModel sets the model name forwarded to the service and used to pick
// the tokenizer for context trimming.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxContextTokens trims the transcript, oldest first, so the request
// stays within maxTokens. Zero disables trimming.
func WithMaxContextTokens(maxTokens int) ClientOption {
	return func(c *Client) {
		c.maxContextTokens = maxTokens
	}
}

// WithCounter overrides the token counter.
func WithCounter(counter tokens.Counter) ClientOption {
	return func(c *Client) {
		c.counter = counter
	}
}

// Client talks to the assistant exchange endpoint.
type Client struct {
	baseURL          string
	apiKey           string
	model            string
	maxContextTokens int
	counter          tokens.Counter
	httpClient       *http.Client
}

// NewClient creates a new assistant client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		if counter, err := tokens.NewTiktokenCounter(c.model); err == nil {
			c.counter = counter
		} else {
			c.counter = tokens.NewEstimator()
		}
	}
	return c
}

// Exchange sends the transcript and the current staged configuration and
// returns the validated response. Every failure is an *Error.
func (c *Client) Exchange(ctx context.Context, entries []transcript.Entry, current storefront.Configuration) (*Result, error) {
	ctx, span := tracer.Start(ctx, "assistant.exchange")
	defer span.End()

	req := c.buildRequest(entries, current)
	span.SetAttributes(
		attribute.Int("assistant.messages", len(req.Messages)),
		attribute.Int("assistant.transcript_entries", len(entries)),
	)

	res, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("assistant.has_patch", res.Patch != nil),
		attribute.Bool("assistant.final_step", res.InterviewComplete),
		attribute.Bool("assistant.create_shop", res.ShouldCreateResource),
	)
	return res, nil
}

func (c *Client) buildRequest(entries []transcript.Entry, current storefront.Configuration) *ExchangeRequest {
	msgs := make([]tokens.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, tokens.Message{Role: string(e.Origin), Content: e.Text})
	}

	if c.maxContextTokens > 0 {
		reserved := 0
		if raw, err := json.Marshal(current); err == nil {
			reserved = c.counter.CountText(string(raw))
		}
		msgs = tokens.Trim(c.counter, msgs, c.maxContextTokens, reserved)
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}

	if current == nil {
		current = storefront.Configuration{}
	}
	return &ExchangeRequest{
		Model:           c.model,
		Messages:        out,
		CurrentTemplate: current,
	}
}

func (c *Client) do(ctx context.Context, req *ExchangeRequest) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: ErrorKindMalformed, Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Message: "failed to create request", Err: err}
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       ErrorKindStatus,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var wire ExchangeResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, &Error{
			Kind:    ErrorKindMalformed,
			Message: "failed to unmarshal response",
			Err:     fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}

	res, err := wire.toResult()
	if err != nil {
		return nil, &Error{Kind: ErrorKindMalformed, Message: err.Error(), Err: err}
	}
	return res, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return er.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
