// Package provider talks to the cloud recording service over its JSON/HTTP API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// CodeNoRecordedData is returned by stop when nothing was captured.
const CodeNoRecordedData = 435

const (
	StatusIdle      = 0
	StatusStarting  = 1
	StatusRecording = 2
	StatusFinished  = 3
	StatusError     = 4
)

var ErrNotFound = errors.New("provider: not found")

type Config struct {
	BaseURL        string
	AppId          string
	CustomerKey    string
	CustomerSecret string
	HTTPClient     *http.Client
}

type Storage struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

type File struct {
	FileName string `json:"fileName"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type StopResult struct {
	Code     int             `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
	FileList []File          `json:"fileList,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// NoRecordedData reports whether the provider explicitly said nothing was captured.
func (s StopResult) NoRecordedData() bool {
	return s.Code == CodeNoRecordedData
}

type QueryResult struct {
	Status   int             `json:"status"`
	Message  string          `json:"message,omitempty"`
	FileList []File          `json:"fileList,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

func (q QueryResult) StillRecording() bool {
	return q.Status == StatusStarting || q.Status == StatusRecording
}

func (q QueryResult) Failed() bool {
	return q.Status == StatusError
}

// APIError is a non-2xx response other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	config Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{config: cfg, client: client}
}

type channelRequest struct {
	Channel string   `json:"channel"`
	Uid     string   `json:"uid"`
	Storage *Storage `json:"storage,omitempty"`
}

func (c *Client) Acquire(ctx context.Context, channel, uid string) (string, error) {
	var resp struct {
		ResourceId string `json:"resourceId"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.path("recordings", "acquire"), channelRequest{Channel: channel, Uid: uid}, &resp); err != nil {
		return "", err
	}
	if resp.ResourceId == "" {
		return "", errors.New("provider: acquire returned empty resourceId")
	}
	return resp.ResourceId, nil
}

func (c *Client) Start(ctx context.Context, resourceId, channel, uid string, storage Storage) (string, error) {
	var resp struct {
		Sid string `json:"sid"`
	}
	body := channelRequest{Channel: channel, Uid: uid, Storage: &storage}
	if _, err := c.do(ctx, http.MethodPost, c.path("recordings", "resources", resourceId, "start"), body, &resp); err != nil {
		return "", err
	}
	if resp.Sid == "" {
		return "", errors.New("provider: start returned empty sid")
	}
	return resp.Sid, nil
}

func (c *Client) Stop(ctx context.Context, resourceId, sid, channel, uid string) (StopResult, error) {
	var result StopResult
	raw, err := c.do(ctx, http.MethodPost, c.path("recordings", "resources", resourceId, "sessions", sid, "stop"), channelRequest{Channel: channel, Uid: uid}, &result)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// no-data is reported with an error status but is still a valid answer
		if jsonErr := json.Unmarshal([]byte(apiErr.Body), &result); jsonErr == nil && result.NoRecordedData() {
			result.Raw = json.RawMessage(apiErr.Body)
			return result, nil
		}
	}
	if err != nil {
		return StopResult{}, err
	}
	result.Raw = raw
	return result, nil
}

// Query returns ErrNotFound when the provider no longer knows the session.
func (c *Client) Query(ctx context.Context, resourceId, sid string) (QueryResult, error) {
	var result QueryResult
	raw, err := c.do(ctx, http.MethodGet, c.path("recordings", "resources", resourceId, "sessions", sid, "query"), nil, &result)
	if err != nil {
		return QueryResult{}, err
	}
	result.Raw = raw
	return result, nil
}

// FetchArtifact streams the named artifact into localPath. It returns
// ErrNotFound while the artifact is not yet available.
func (c *Client) FetchArtifact(ctx context.Context, resourceId, sid, name, localPath string) (int64, error) {
	return c.download(ctx, c.path("recordings", "resources", resourceId, "sessions", sid, "files", name), true, localPath)
}

// Download fetches a direct artifact URL offered in a manifest.
func (c *Client) Download(ctx context.Context, rawURL, localPath string) (int64, error) {
	return c.download(ctx, rawURL, false, localPath)
}

func (c *Client) download(ctx context.Context, rawURL string, authenticated bool, localPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if authenticated {
		req.SetBasicAuth(c.config.CustomerKey, c.config.CustomerSecret)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if !isHTTPSuccessStatus(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	file, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return 0, err
	}
	return n, nil
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, strings.TrimRight(c.config.BaseURL, "/"), "v1", "apps", url.PathEscape(c.config.AppId))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.config.CustomerKey, c.config.CustomerSecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode provider response: %w", err)
		}
	}
	return raw, nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
