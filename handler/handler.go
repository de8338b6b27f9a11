package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"lark-bridge/internal/domain"
	"lark-bridge/internal/usecase"
)

// EventProcessor is the slice of the usecase layer the handler needs.
type EventProcessor interface {
	Process(ctx context.Context, payload domain.WebhookPayload) (usecase.ProcessOutput, error)
}

type statusResponse struct {
	Status string `json:"status"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type eventResponse struct {
	OK      bool   `json:"ok"`
	Skipped string `json:"skipped,omitempty"`
	Replied bool   `json:"replied,omitempty"`
	Cleared bool   `json:"cleared,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler adapts API Gateway requests to the event processor. Webhook
// deliveries are always acknowledged with HTTP 200 so the platform never
// retries an event the bridge already attempted.
type Handler struct {
	processor EventProcessor
	logger    *slog.Logger
}

func NewHandler(p EventProcessor, logger *slog.Logger) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: event processor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: p, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(event.Headers)
	logger := h.logger.With("correlation_id", correlationID)

	switch event.HTTPMethod {
	case http.MethodGet:
		return respond(http.StatusOK, statusResponse{Status: "ok"}, correlationID), nil
	case http.MethodPost:
		// Fall through to webhook handling below.
	default:
		return respond(http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"}, correlationID), nil
	}

	// A body that does not decode is treated as an empty event and skipped
	// downstream, never rejected: Lark retries on anything but a 200.
	var payload domain.WebhookPayload
	if err := json.Unmarshal([]byte(event.Body), &payload); err != nil {
		logger.Warn("undecodable webhook body", "err", err)
		payload = domain.WebhookPayload{}
	}

	// URL verification handshake.
	if payload.Challenge != "" {
		return respond(http.StatusOK, challengeResponse{Challenge: payload.Challenge}, correlationID), nil
	}

	out, err := h.processor.Process(ctx, payload)
	if err != nil {
		logger.Error("event processing failed", "err", err)
		return respond(http.StatusOK, eventResponse{OK: false, Error: errorCode(err)}, correlationID), nil
	}

	return respond(http.StatusOK, eventResponse{
		OK:      true,
		Skipped: out.Skipped,
		Replied: out.Replied,
		Cleared: out.Cleared,
	}, correlationID), nil
}

func errorCode(err error) string {
	var usecaseErr *usecase.Error
	if errors.As(err, &usecaseErr) {
		return usecaseErr.Reason
	}
	return string(usecase.ErrorInternal)
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "X-Correlation-Id" && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		// Marshalling the fixed response shapes above cannot fail; keep the
		// contract of always answering with a body anyway.
		buf = []byte(`{"error":"internal"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(buf),
	}
}
