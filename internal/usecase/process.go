package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"lark-bridge/internal/domain"
)

const (
	clearCommand      = "/clear"
	clearConfirmation = "Conversation history cleared."
	senderTypeApp     = "app"

	// Skip reasons reported back in the webhook acknowledgment.
	SkipNoText    = "no text"
	SkipDuplicate = "duplicate"
	SkipBot       = "bot"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type CompletionClient interface {
	Complete(ctx context.Context, model, system string, messages []domain.ChatMessage) (string, error)
}

type ReplyDispatcher interface {
	Reply(ctx context.Context, messageID, text string) error
}

type SessionStore interface {
	Load(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Save(ctx context.Context, sessionID string, transcript []domain.ChatMessage) error
	Clear(ctx context.Context, sessionID string) error
}

type DedupGate interface {
	CheckAndMark(ctx context.Context, messageID string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ProcessService drives the handling of one inbound message event:
// normalize, dedup, sender filter, command check, then the conversation
// turn. The dedup gate and session store fail open: a store outage degrades
// dedup and history but never drops the reply.
type ProcessService struct {
	params      ParamGetter
	llm         CompletionClient
	replier     ReplyDispatcher
	sessions    SessionStore
	dedup       DedupGate
	paramPrefix string
	logger      *slog.Logger

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	model        string
	systemPrompt string
}

// ProcessOutput reports how an event was handled. Exactly one of Skipped,
// Replied or Cleared is set on success.
type ProcessOutput struct {
	Skipped string
	Replied bool
	Cleared bool
}

func NewProcessService(p ParamGetter, llm CompletionClient, r ReplyDispatcher, s SessionStore, d DedupGate, paramPrefix string, logger *slog.Logger) (*ProcessService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: reply dispatcher must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if d == nil {
		return nil, errors.New("usecase: dedup gate must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessService{
		params:      p,
		llm:         llm,
		replier:     r,
		sessions:    s,
		dedup:       d,
		paramPrefix: paramPrefix,
		logger:      logger,
	}, nil
}

// Process handles one webhook event payload. Skips are successful no-ops;
// a returned error means the conversation turn itself failed, and the caller
// still acknowledges the delivery with HTTP 200.
func (s *ProcessService) Process(ctx context.Context, payload domain.WebhookPayload) (ProcessOutput, error) {
	msg, ok := normalizeEvent(payload)
	if !ok {
		return ProcessOutput{Skipped: SkipNoText}, nil
	}

	duplicate, err := s.dedup.CheckAndMark(ctx, msg.MessageID)
	switch {
	case err != nil:
		// Fail open: a store outage must not silently drop user messages.
		s.logger.Warn("dedup check failed, continuing", "message_id", msg.MessageID, "err", err)
	case duplicate:
		s.logger.Info("duplicate message, skipping", "message_id", msg.MessageID)
		return ProcessOutput{Skipped: SkipDuplicate}, nil
	}

	// The bot's own messages come back through the webhook; answering them
	// would loop forever.
	if msg.SenderType == senderTypeApp {
		return ProcessOutput{Skipped: SkipBot}, nil
	}

	if strings.EqualFold(msg.Text, clearCommand) {
		if err := s.sessions.Clear(ctx, msg.SessionID); err != nil {
			return ProcessOutput{}, newError(ErrorInternal, "session_clear_error", err)
		}
		if err := s.replier.Reply(ctx, msg.MessageID, clearConfirmation); err != nil {
			return ProcessOutput{}, s.replyError(err)
		}
		s.logger.Info("session cleared", "session_id", msg.SessionID)
		return ProcessOutput{Cleared: true}, nil
	}

	if err := s.ensureConfig(ctx); err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	history, err := s.sessions.Load(ctx, msg.SessionID)
	if err != nil {
		s.logger.Warn("session load failed, starting with empty history", "session_id", msg.SessionID, "err", err)
		history = nil
	}

	transcript := append(history, domain.ChatMessage{Role: domain.RoleUser, Content: msg.Text})

	answer, err := s.llm.Complete(ctx, s.model, s.systemPrompt, transcript)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ProcessOutput{}, newError(ErrorRateLimited, "anthropic_rate_limited", err)
		}
		return ProcessOutput{}, newError(ErrorUpstream, "anthropic_error", err)
	}

	transcript = append(transcript, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer})
	if err := s.sessions.Save(ctx, msg.SessionID, transcript); err != nil {
		// History loss degrades context, not the reply.
		s.logger.Warn("session save failed, replying anyway", "session_id", msg.SessionID, "err", err)
	}

	if err := s.replier.Reply(ctx, msg.MessageID, answer); err != nil {
		return ProcessOutput{}, s.replyError(err)
	}
	return ProcessOutput{Replied: true}, nil
}

func (s *ProcessService) replyError(err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, "lark_rate_limited", err)
	}
	return newError(ErrorUpstream, "lark_reply_error", err)
}

// ensureConfig loads the model name and system prompt from SSM once per
// process. A failed load is retried on the next request.
func (s *ProcessService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, systemPrompt, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.model = model
	s.systemPrompt = systemPrompt
	s.cacheLoaded = true
	return nil
}

func (s *ProcessService) loadSSMParams(ctx context.Context) (model, systemPrompt string, err error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	model, err = s.params.GetParameter(ctx, prefix+"/config/anthropic_model")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load model: %w", err)
	}
	systemPrompt, err = s.params.GetParameter(ctx, prefix+"/system_prompt")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load system prompt: %w", err)
	}
	return model, systemPrompt, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
