package client

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

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
)

// DefaultFailureMessage is shown when the service gave no usable detail
const DefaultFailureMessage = "Failed to generate content"

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 10 << 20

// ErrorKind classifies why a generation call failed
type ErrorKind string

const (
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindApplication ErrorKind = "application"
	ErrorKindMalformed   ErrorKind = "malformed"
)

// GenerationError is the normalized failure of a generation call.
// Message is safe to show to the user verbatim.
type GenerationError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation %s failure: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("generation %s failure: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generator produces an artifact for a source URL
type Generator interface {
	Generate(ctx context.Context, url string) (*model.Artifact, error)
}

// GenerationClient calls the remote generation service
type GenerationClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	validate   *validator.Validate
	log        *logrus.Entry
}

type generateRequest struct {
	URL string `json:"url"`
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// NewGenerationClient creates a new generation service client
func NewGenerationClient(cfg *config.GenerationConfig, log logrus.FieldLogger) *GenerationClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	c := &GenerationClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(cfg.Endpoint, "/"),
		validate: validator.New(),
		log:      logger.Component(log, "generation-client"),
	}

	if cfg.BreakerEnabled {
		threshold := cfg.BreakerThreshold
		if threshold == 0 {
			threshold = 3
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "generation",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Only outages count against the breaker, not rejected inputs
			IsSuccessful: func(err error) bool {
				var genErr *GenerationError
				if errors.As(err, &genErr) {
					return genErr.Kind != ErrorKindTransport && genErr.StatusCode < 500
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		})
	}

	return c
}

// Generate issues one POST <endpoint>/generate call. It never retries.
// Every failure is a *GenerationError.
func (c *GenerationClient) Generate(ctx context.Context, url string) (*model.Artifact, error) {
	if c.breaker == nil {
		return c.generate(ctx, url)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &GenerationError{Kind: ErrorKindTransport, Message: DefaultFailureMessage, Err: err}
		}
		return nil, err
	}
	return result.(*model.Artifact), nil
}

func (c *GenerationClient) generate(ctx context.Context, url string) (*model.Artifact, error) {
	bodyBytes, err := json.Marshal(generateRequest{URL: url})
	if err != nil {
		return nil, &GenerationError{Kind: ErrorKindTransport, Message: DefaultFailureMessage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &GenerationError{Kind: ErrorKindTransport, Message: DefaultFailureMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log := c.log.WithField("url", url)
	log.Debug("→ POST /generate")
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("generation request failed")
		return nil, &GenerationError{Kind: ErrorKindTransport, Message: DefaultFailureMessage, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.WithError(err).Warn("failed to read generation response")
		return nil, &GenerationError{Kind: ErrorKindTransport, Message: DefaultFailureMessage, StatusCode: resp.StatusCode, Err: err}
	}

	log = log.WithFields(logrus.Fields{"status": resp.StatusCode, "latency": time.Since(started).String()})
	log.Debug("← POST /generate")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := detailMessage(respBody)
		log.WithField("detail", msg).Warn("generation service rejected request")
		return nil, &GenerationError{Kind: ErrorKindApplication, Message: msg, StatusCode: resp.StatusCode}
	}

	var artifact model.Artifact
	if err := json.Unmarshal(respBody, &artifact); err != nil {
		log.WithError(err).Warn("generation response is not valid JSON")
		return nil, &GenerationError{Kind: ErrorKindMalformed, Message: DefaultFailureMessage, StatusCode: resp.StatusCode, Err: err}
	}
	if err := c.validate.Struct(&artifact); err != nil {
		log.WithError(err).Warn("generation response is missing artifact fields")
		return nil, &GenerationError{Kind: ErrorKindMalformed, Message: DefaultFailureMessage, StatusCode: resp.StatusCode, Err: err}
	}

	return &artifact, nil
}

// detailMessage extracts a string "detail" field, falling back to the generic message.
// Structured details (lists of validation issues) are not user-readable and are ignored.
func detailMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return DefaultFailureMessage
	}
	var detail string
	if err := json.Unmarshal(eb.Detail, &detail); err != nil {
		return DefaultFailureMessage
	}
	if strings.TrimSpace(detail) == "" {
		return DefaultFailureMessage
	}
	return detail
}
