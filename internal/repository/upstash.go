package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Getter is the parameter-store interface used to resolve the REST token.
// Satisfied by paramstore.Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the expected JSON shape stored in SSM for the REST token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Upstash talks to an Upstash Redis database over its REST API: one POST
// endpoint, a JSON command array per request, bearer-token auth. The token is
// fetched from the parameter store on first use and cached for the process
// lifetime.
type Upstash struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type UpstashOption func(*Upstash)

func WithHTTPClient(httpClient *http.Client) UpstashOption {
	return func(u *Upstash) {
		u.httpClient = httpClient
	}
}

// NewUpstash creates an Upstash-backed KV. baseURL is the database's REST
// endpoint; the auth token is read from {paramPrefix}/upstash-token.
func NewUpstash(ps Getter, paramPrefix, baseURL string, opts ...UpstashOption) (*Upstash, error) {
	if ps == nil {
		return nil, errors.New("repository: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("repository: parameter prefix must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("repository: upstash base URL must not be empty")
	}
	u := &Upstash{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

func (u *Upstash) tokenParameterName() string {
	return u.paramPrefix + "/upstash-token"
}

// resolveToken fetches the REST token from the parameter store on the first
// call and returns the cached result afterwards.
func (u *Upstash) resolveToken(ctx context.Context) (string, error) {
	u.tokenOnce.Do(func() {
		u.token, u.tokenErr = fetchTokenFromParamStore(ctx, u.getter, u.tokenParameterName())
	})
	return u.token, u.tokenErr
}

// commandResponse is the REST envelope: exactly one of Result or Error is set.
type commandResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// do executes a single Redis command and returns its raw result.
func (u *Upstash) do(ctx context.Context, command []string) (json.RawMessage, error) {
	token, err := u.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("repository: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repository: upstash request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("repository: read upstash response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("repository: unexpected status %d from upstash: %s", res.StatusCode, string(raw))
	}

	var payload commandResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("repository: decode upstash response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("repository: upstash command error: %s", payload.Error)
	}
	return payload.Result, nil
}

func resultAbsent(result json.RawMessage) bool {
	return len(result) == 0 || string(result) == "null"
}

func (u *Upstash) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := u.do(ctx, []string{"GET", key})
	if err != nil {
		return "", false, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	if resultAbsent(result) {
		return "", false, nil
	}
	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return "", false, fmt.Errorf("repository: Get %q decode result: %w", key, err)
	}
	return value, true, nil
}

func (u *Upstash) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := u.do(ctx, []string{"SET", key, value, "EX", strconv.FormatInt(ttlSeconds(ttl), 10)})
	if err != nil {
		return fmt.Errorf("repository: Set %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent issues SET ... EX ... NX; a null result means the key already
// existed and nothing was written.
func (u *Upstash) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	result, err := u.do(ctx, []string{"SET", key, value, "EX", strconv.FormatInt(ttlSeconds(ttl), 10), "NX"})
	if err != nil {
		return false, fmt.Errorf("repository: SetIfAbsent %q: %w", key, err)
	}
	return !resultAbsent(result), nil
}

func (u *Upstash) Delete(ctx context.Context, key string) error {
	_, err := u.do(ctx, []string{"DEL", key})
	if err != nil {
		return fmt.Errorf("repository: Delete %q: %w", key, err)
	}
	return nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("repository: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("repository: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("repository: upstash token is empty")
	}
	return tp.Token, nil
}
