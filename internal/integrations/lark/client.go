package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// credentialsPayload is the expected JSON shape stored in SSM for the app
// credentials.
type credentialsPayload struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
}

type replyRequest struct {
	Content string `json:"content"`
	MsgType string `json:"msg_type"`
}

type replyResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("lark: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts text replies back into Lark message threads. App credentials
// are fetched from SSM once per process; the tenant access token is exchanged
// fresh for every reply and never cached.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	credOnce sync.Once
	creds    credentialsPayload
	credErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// credential retrieval from {paramPrefix}/lark-credentials.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("lark: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("lark: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://open.larksuite.com",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) credentialsParameterName() string {
	return c.paramPrefix + "/lark-credentials"
}

// resolveCredentials fetches the app credentials from SSM on the first call
// and returns the cached result afterwards.
func (c *Client) resolveCredentials(ctx context.Context) (credentialsPayload, error) {
	c.credOnce.Do(func() {
		c.creds, c.credErr = fetchCredentialsFromParamStore(ctx, c.getter, c.credentialsParameterName())
	})
	return c.creds, c.credErr
}

// tenantToken exchanges the app credentials for a tenant access token.
// Called once per reply; tokens are deliberately not reused across requests.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(tokenRequest{AppID: creds.AppID, AppSecret: creds.AppSecret})
	if err != nil {
		return "", fmt.Errorf("lark: marshal token request: %w", err)
	}

	url := c.baseURL + "/open-apis/auth/v3/tenant_access_token/internal"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("lark: create token request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("lark: token request failed: %w", err)
	}

	var payload tokenResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("lark: decode token response: %w", decErr)
	}
	if payload.Code != 0 {
		return "", fmt.Errorf("lark: token exchange failed with code %d: %s", payload.Code, payload.Msg)
	}
	if payload.TenantAccessToken == "" {
		return "", errors.New("lark: empty tenant access token in response")
	}
	return payload.TenantAccessToken, nil
}

// Reply posts a text reply into the thread of the given message.
func (c *Client) Reply(ctx context.Context, messageID, text string) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("lark: message id must not be empty")
	}

	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	content, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return fmt.Errorf("lark: marshal reply content: %w", err)
	}

	body, err := json.Marshal(replyRequest{Content: string(content), MsgType: "text"})
	if err != nil {
		return fmt.Errorf("lark: marshal reply request: %w", err)
	}

	url := c.baseURL + "/open-apis/im/v1/messages/" + messageID + "/reply"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("lark: create reply request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return fmt.Errorf("lark: reply request failed: %w", err)
	}

	var payload replyResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return fmt.Errorf("lark: decode reply response: %w", decErr)
	}
	if payload.Code != 0 {
		return fmt.Errorf("lark: reply failed with code %d: %s", payload.Code, payload.Msg)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchCredentialsFromParamStore(ctx context.Context, getter Getter, name string) (credentialsPayload, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return credentialsPayload{}, fmt.Errorf("lark: fetch credentials from paramstore: %w", err)
	}
	var creds credentialsPayload
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return credentialsPayload{}, fmt.Errorf("lark: unmarshal paramstore credentials as JSON: %w", err)
	}
	if creds.AppID == "" || creds.AppSecret == "" {
		return credentialsPayload{}, errors.New("lark: app credentials are incomplete")
	}
	return creds, nil
}
