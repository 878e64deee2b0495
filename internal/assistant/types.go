package assistant

import (
	"errors"
	"fmt"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

// Message is one transcript turn as sent to the assistant service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExchangeRequest is the body of POST /exchange.
type ExchangeRequest struct {
	Model           string                   `json:"model,omitempty"`
	Messages        []Message                `json:"messages"`
	CurrentTemplate storefront.Configuration `json:"currentTemplate"`
}

// ExchangeResponse is the wire response. ReplyText is a pointer so a missing
// field can be told apart from an empty reply.
type ExchangeResponse struct {
	ReplyText        *string        `json:"replyText"`
	TemplateUpdates  map[string]any `json:"templateUpdates"`
	IsFinalStep      bool           `json:"isFinalStep,omitempty"`
	ShouldCreateShop bool           `json:"shouldCreateShop,omitempty"`
	ShopData         map[string]any `json:"shopData,omitempty"`
}

// Result is a validated exchange response.
type Result struct {
	ReplyText            string
	Patch                storefront.Configuration
	InterviewComplete    bool
	ShouldCreateResource bool
	ResourcePayload      map[string]any
}

// ErrMalformedResponse marks responses that decoded but cannot be used.
var ErrMalformedResponse = errors.New("malformed assistant response")

// ErrorKind classifies exchange failures.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindStatus    ErrorKind = "status"
	ErrorKindMalformed ErrorKind = "malformed"
)

// Error is returned by Client.Exchange for every failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("assistant %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorResponse is the error body the assistant service returns on non-2xx.
type errorResponse struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toResult validates the wire response.
func (r *ExchangeResponse) toResult() (*Result, error) {
	if r.ReplyText == nil {
		return nil, fmt.Errorf("%w: missing replyText", ErrMalformedResponse)
	}

	res := &Result{
		ReplyText:            *r.ReplyText,
		InterviewComplete:    r.IsFinalStep,
		ShouldCreateResource: r.ShouldCreateShop,
	}

	if r.TemplateUpdates != nil {
		patch, err := storefront.Normalize(r.TemplateUpdates)
		if err != nil {
			return nil, fmt.Errorf("%w: templateUpdates: %v", ErrMalformedResponse, err)
		}
		res.Patch = patch
	}

	if len(r.ShopData) > 0 {
		res.ResourcePayload = r.ShopData
	}

	return res, nil
}
