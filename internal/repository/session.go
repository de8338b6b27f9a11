package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lark-bridge/internal/domain"
)

const (
	sessionKeyPrefix = "session:"
	// Sliding window: refreshed on every save, so active threads never
	// expire mid-conversation while abandoned ones self-clean.
	sessionTTL      = 6 * time.Hour
	defaultMaxTurns = 50
)

// SessionStore keeps one rolling conversation transcript per session id,
// serialized as JSON under session:{id}. Absence and corrupt data both read
// as an empty transcript; the store never makes state loss fatal.
type SessionStore struct {
	kv       KV
	maxTurns int
}

// NewSessionStore creates a SessionStore capped at maxTurns stored turns.
// Non-positive maxTurns falls back to the default of 50.
func NewSessionStore(kv KV, maxTurns int) (*SessionStore, error) {
	if kv == nil {
		return nil, errors.New("repository: kv must not be nil")
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &SessionStore{kv: kv, maxTurns: maxTurns}, nil
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Load fetches the transcript for a session. On a store error or
// undecodable value it returns an empty transcript together with the error;
// callers log and proceed without history.
func (s *SessionStore) Load(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	value, found, err := s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("repository: Load session %q: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}

	var transcript []domain.ChatMessage
	if err := json.Unmarshal([]byte(value), &transcript); err != nil {
		// Corrupt or legacy data reads as an empty transcript.
		return nil, fmt.Errorf("repository: Load session %q decode transcript: %w", sessionID, err)
	}
	return transcript, nil
}

// Save persists the transcript, keeping only the newest maxTurns turns, and
// refreshes the expiry window.
func (s *SessionStore) Save(ctx context.Context, sessionID string, transcript []domain.ChatMessage) error {
	if len(transcript) > s.maxTurns {
		transcript = transcript[len(transcript)-s.maxTurns:]
	}
	value, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("repository: Save session %q marshal transcript: %w", sessionID, err)
	}
	if err := s.kv.Set(ctx, sessionKey(sessionID), string(value), sessionTTL); err != nil {
		return fmt.Errorf("repository: Save session %q: %w", sessionID, err)
	}
	return nil
}

// Clear deletes the stored transcript. Clearing an absent session succeeds.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, sessionKey(sessionID)); err != nil {
		return fmt.Errorf("repository: Clear session %q: %w", sessionID, err)
	}
	return nil
}
