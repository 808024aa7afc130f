package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/voltaudit/voltaudit/pkg/models"
)

const (
	// maxTransientAttempts caps retries on network/5xx/rate-limit errors.
	maxTransientAttempts = 3
	// maxSchemaAttempts caps re-prompting after schema validation failures.
	maxSchemaAttempts = 3

	transientBackoffBase = 1 * time.Second
	transientBackoffCap  = 30 * time.Second
)

// Image is one base64-encodable image input to the provider.
type Image struct {
	MediaType string
	Data      []byte
}

// ProviderRequest is a single completion call.
type ProviderRequest struct {
	SystemPrompt string
	Texts        []string
	Images       []Image
	MaxTokens    int64
}

// ProviderResponse is the raw completion plus call metadata.
type ProviderResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Provider is the seam to the external LLM. Implementations report transient
// failures as TransientError so the client can retry them.
type Provider interface {
	Complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// TransientError marks provider failures worth retrying (network, 5xx,
// rate limits).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Client wraps the provider with transient retries, a circuit breaker and
// schema-validated decoding. It never returns a value that fails schema
// validation.
type Client struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	validate *validator.Validate
	logger   logr.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewClient builds an extraction client over a provider.
func NewClient(provider Provider, logger logr.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-provider",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		provider: provider,
		breaker:  breaker,
		validate: validator.New(),
		logger:   logger.WithName("extraction-client"),
		sleep:    time.Sleep,
	}
}

// complete performs one provider call with transient retry and breaker
// protection.
func (c *Client) complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxTransientAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.provider.Complete(ctx, req)
		})
		if err == nil {
			return result.(*ProviderResponse), nil
		}
		lastErr = err

		var transient *TransientError
		if !errors.As(err, &transient) && !errors.Is(err, gobreaker.ErrOpenState) {
			// Non-transient provider failure: do not retry.
			return nil, err
		}

		if attempt < maxTransientAttempts {
			delay := transientBackoff(attempt)
			c.logger.Info("transient provider error, retrying",
				"attempt", attempt, "delay", delay.String(), "error", err.Error())
			c.sleep(delay)
		}
	}
	return nil, models.Wrap(models.KindExternal, "VALD_502", "LLM provider failed after retries", lastErr)
}

func transientBackoff(attempt int) time.Duration {
	d := transientBackoffBase << (attempt - 1)
	if d > transientBackoffCap {
		return transientBackoffCap
	}
	return d
}

// leafer is implemented by every extraction payload type.
type leafer interface {
	Leaves() []Leaf
}

// Extract runs the full extraction loop for a typed payload: complete,
// decode, validate, and on schema failure re-prompt with the validator's
// error text, up to maxSchemaAttempts times.
func Extract[T leafer](ctx context.Context, c *Client, systemPrompt, promptVersion string, texts []string, images []Image, payload T) (*Result[T], error) {
	req := ProviderRequest{
		SystemPrompt: systemPrompt,
		Texts:        texts,
		Images:       images,
		MaxTokens:    8192,
	}

	var lastValidationErr error
	for attempt := 1; attempt <= maxSchemaAttempts; attempt++ {
		resp, err := c.complete(ctx, req)
		if err != nil {
			return nil, err
		}

		raw, jsonErr := ExtractJSON(resp.Text)
		decodeErr := jsonErr
		if decodeErr == nil {
			// A re-prompted response must not inherit fields decoded from an
			// earlier attempt; json.Unmarshal merges into what is already there.
			resetPayload(payload)
			decodeErr = json.Unmarshal(raw, &payload)
		}
		if decodeErr == nil {
			decodeErr = c.validate.Struct(payload)
		}

		if decodeErr == nil {
			overall, needsReview := summarize(payload.Leaves())
			return &Result[T]{
				Payload:           payload,
				OverallConfidence: overall,
				NeedsReview:       needsReview,
				Metadata: Metadata{
					Model:         resp.Model,
					PromptVersion: promptVersion,
					InputTokens:   resp.InputTokens,
					OutputTokens:  resp.OutputTokens,
					StopReason:    resp.StopReason,
				},
			}, nil
		}

		lastValidationErr = decodeErr
		c.logger.Info("extraction failed schema validation, re-prompting",
			"attempt", attempt, "error", decodeErr.Error())

		// Re-prompt with the validator's error text appended.
		req.Texts = append(texts, fmt.Sprintf(
			"Your previous response did not conform to the required schema. Error: %s\nRespond again with ONLY a valid JSON object conforming to the schema.",
			decodeErr.Error()))
	}

	return nil, models.Wrap(models.KindExternal, "VALD_422",
		"extraction failed schema validation after retries", lastValidationErr)
}

// resetPayload zeroes the pointed-to payload value between decode attempts.
func resetPayload(payload any) {
	v := reflect.ValueOf(payload)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}

// ExtractJSON pulls the first JSON object out of a completion, tolerating
// markdown fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	raw := json.RawMessage(text[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("response contains malformed JSON")
	}
	return raw, nil
}
