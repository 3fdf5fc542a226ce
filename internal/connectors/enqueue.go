package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/o11y-orchestrator/internal/correlation"
)

// EnqueueRequest: тело POST /enqueue.
type EnqueueRequest struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// EnqueueClient передает сообщение в downstream очередь.
type EnqueueClient struct {
	caller
	baseURL string
}

func NewEnqueueClient(baseURL string, timeout time.Duration, client *http.Client, breaker Breaker) *EnqueueClient {
	return &EnqueueClient{
		caller:  newCaller(TargetEnqueue, client, timeout, breaker),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *EnqueueClient) Enqueue(ctx context.Context, message string, id correlation.ID) Outcome {
	payload, err := json.Marshal(EnqueueRequest{Message: message, CorrelationID: id.String()})
	if err != nil {
		return FromError(c.target, err)
	}

	body, err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enqueue", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return FromError(c.target, err)
	}
	if !json.Valid(body) {
		return FromError(c.target, &UnavailableError{Target: c.target, Cause: errors.New("invalid json response")})
	}
	return Success(c.target, json.RawMessage(body))
}
