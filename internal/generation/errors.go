package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
)

var (
	ErrMissingAPIKey     = errors.New("provider api key is not configured")
	ErrUnreachable       = errors.New("provider unreachable")
	ErrProvider          = errors.New("provider returned an error")
	ErrMalformedResponse = errors.New("provider response could not be decoded")
	ErrNoCompletion      = errors.New("provider returned no completion")
)

// Error is the tagged failure of a single generation call.
type Error struct {
	Model      catalog.ModelID
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("generation")
	if e.Model != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Model))
		b.WriteString(")")
	}
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err came from a generation call.
func IsGenerationError(err error) bool {
	var genErr *Error
	return errors.As(err, &genErr)
}

type apiError struct {
	Code    any    `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Error *apiError `json:"error,omitempty"`
}

func decodeAPIError(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return nil
	}

	envelope.Error.Message = strings.TrimSpace(envelope.Error.Message)
	return envelope.Error
}

// providerError describes a non-2xx reply, preferring the provider's own error envelope.
func providerError(statusCode int, body []byte) error {
	if apiErr := decodeAPIError(body); apiErr != nil {
		code := apiErr.Type
		if c, ok := apiErr.Code.(string); ok && c != "" {
			code = c
		}
		switch {
		case code != "" && apiErr.Message != "":
			return fmt.Errorf("%w (%s): %s", ErrProvider, code, apiErr.Message)
		case apiErr.Message != "":
			return fmt.Errorf("%w: %s", ErrProvider, apiErr.Message)
		case code != "":
			return fmt.Errorf("%w (%s)", ErrProvider, code)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Errorf("%w: %s", ErrProvider, snippet)
}
