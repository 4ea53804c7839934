// Package client is a typed Go client for the analysis core HTTP surface.
// Error envelopes decode back into the shared error taxonomy, so callers
// dispatch on the same codes whether the core is in-process or remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"acecore/application/ports"
	"acecore/domain/analysis"
	pkgerrors "acecore/pkg/errors"
)

const apiPrefix = "/api/v1"

// Config configures a Client.
type Config struct {
	// BaseURL is the core server address, e.g. "http://localhost:8080".
	BaseURL string

	// APIKey is sent as the bearer token on every request.
	APIKey string

	// HTTPClient overrides the default transport. Leave its Timeout at zero
	// when long work-queue polls are expected; cancellation runs through the
	// request context.
	HTTPClient *http.Client

	// Logger receives circuit breaker state changes. Defaults to a nop.
	Logger *zap.Logger
}

// Client talks to an analysis core over HTTP. A circuit breaker wraps the
// transport so a dead core fails fast instead of piling up blocked workers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client for the given core address.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ace-client",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		breaker: breaker,
	}, nil
}

// decodeError turns an envelope response back into a taxonomy error.
func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Code == "" {
		return &pkgerrors.Error{
			Code:       pkgerrors.CodeInternal,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}
	return &pkgerrors.Error{
		Code:       pkgerrors.Code(envelope.Code),
		Message:    envelope.Details,
		HTTPStatus: resp.StatusCode,
	}
}

// do sends one request through the circuit breaker. Transport failures and
// 5xx responses count against the breaker; 4xx responses do not.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// doJSON sends an optional JSON body and decodes a JSON response into out.
// Returns the response status code; 4xx envelopes come back as errors.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("client: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, contentType, reader)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("client: failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Ping checks the core's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: health check returned status %d", resp.StatusCode)
	}
	return nil
}

// RegisterModuleType registers or replaces a module type.
func (c *Client) RegisterModuleType(ctx context.Context, amt *analysis.ModuleType) (*analysis.ModuleType, error) {
	var registered analysis.ModuleType
	if _, err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/amt", amt, &registered); err != nil {
		return nil, err
	}
	return &registered, nil
}

// GetModuleType returns the registered module type by name, or nil.
func (c *Client) GetModuleType(ctx context.Context, name string) (*analysis.ModuleType, error) {
	var amt analysis.ModuleType
	if _, err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/amt/"+url.PathEscape(name), nil, &amt); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownAMT) {
			return nil, nil
		}
		return nil, err
	}
	return &amt, nil
}

// ListModuleTypes returns every registered module type.
func (c *Client) ListModuleTypes(ctx context.Context) ([]*analysis.ModuleType, error) {
	var amts []*analysis.ModuleType
	if _, err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/amt", nil, &amts); err != nil {
		return nil, err
	}
	return amts, nil
}

// DeleteModuleType unregisters a module type, reporting whether it existed.
func (c *Client) DeleteModuleType(ctx context.Context, name string) (bool, error) {
	if _, err := c.doJSON(ctx, http.MethodDelete, apiPrefix+"/amt/"+url.PathEscape(name), nil, nil); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownAMT) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ProcessAnalysisRequest submits a root, or a worker result, for processing.
func (c *Client) ProcessAnalysisRequest(ctx context.Context, ar *analysis.AnalysisRequest) error {
	_, err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/process_request", ar, nil)
	return err
}

type workQueueRequest struct {
	Owner           string   `json:"owner"`
	AMT             string   `json:"amt"`
	Timeout         int      `json:"timeout"`
	Version         string   `json:"version"`
	ExtendedVersion []string `json:"extended_version,omitempty"`
}

// GetNextWork polls for the next assignment, blocking up to timeout (rounded
// down to whole seconds). Nil without error means an empty poll.
func (c *Client) GetNextWork(ctx context.Context, ownerUUID, amtName string, timeout time.Duration, version string, extendedVersion []string) (*analysis.AnalysisRequest, error) {
	body := workQueueRequest{
		Owner:           ownerUUID,
		AMT:             amtName,
		Timeout:         int(timeout / time.Second),
		Version:         version,
		ExtendedVersion: extendedVersion,
	}
	var ar analysis.AnalysisRequest
	status, err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/work_queue", body, &ar)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &ar, nil
}

// GetRoot returns the tracked root, or nil.
func (c *Client) GetRoot(ctx context.Context, uuid string) (*analysis.RootAnalysis, error) {
	var root analysis.RootAnalysis
	if _, err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/analysis_tracking/root/"+url.PathEscape(uuid), nil, &root); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownRoot) {
			return nil, nil
		}
		return nil, err
	}
	return &root, nil
}

// GetDetails returns the opaque details payload for an analysis, or nil.
func (c *Client) GetDetails(ctx context.Context, uuid string) (json.RawMessage, error) {
	var details json.RawMessage
	if _, err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/analysis_tracking/details/"+url.PathEscape(uuid), nil, &details); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownDetails) {
			return nil, nil
		}
		return nil, err
	}
	return details, nil
}

// StoreContent uploads a payload into content-addressed storage and returns
// the stored metadata. meta may be nil.
func (c *Client) StoreContent(ctx context.Context, r io.Reader, meta *analysis.ContentMetadata) (*analysis.ContentMetadata, error) {
	name := "content"
	if meta != nil && meta.Name != "" {
		name = meta.Name
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("client: failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("client: failed to read content: %w", err)
	}
	if meta != nil {
		encoded, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("client: failed to encode meta: %w", err)
		}
		if err := mw.WriteField("meta", string(encoded)); err != nil {
			return nil, fmt.Errorf("client: failed to build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("client: failed to build multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, apiPrefix+"/storage", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}

	var stored analysis.ContentMetadata
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("client: failed to decode response: %w", err)
	}
	return &stored, nil
}

// OpenContent streams stored content. The caller closes the reader.
func (c *Client) OpenContent(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, apiPrefix+"/storage/"+url.PathEscape(sha256), "", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// GetContentMeta returns stored content metadata, nil when unknown.
func (c *Client) GetContentMeta(ctx context.Context, sha256 string) (*analysis.ContentMetadata, error) {
	var meta analysis.ContentMetadata
	if _, err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/storage/meta/"+url.PathEscape(sha256), nil, &meta); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownFile) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// GetConfig returns a configuration setting, nil when unset.
func (c *Client) GetConfig(ctx context.Context, key string) (*ports.ConfigSetting, error) {
	var setting ports.ConfigSetting
	path := apiPrefix + "/config?key=" + url.QueryEscape(key)
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &setting); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownConfig) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

// SetConfig stores a configuration setting. Requires an admin key.
func (c *Client) SetConfig(ctx context.Context, setting *ports.ConfigSetting) error {
	_, err := c.doJSON(ctx, http.MethodPut, apiPrefix+"/config", setting, nil)
	return err
}

// DeleteConfig removes a configuration setting, reporting whether it existed.
// Requires an admin key.
func (c *Client) DeleteConfig(ctx context.Context, key string) (bool, error) {
	path := apiPrefix + "/config?key=" + url.QueryEscape(key)
	if _, err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownConfig) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type createKeyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
}

// CreateAPIKey mints a new credential and returns the plaintext key.
// Requires an admin key.
func (c *Client) CreateAPIKey(ctx context.Context, name, description string, isAdmin bool) (string, error) {
	var created struct {
		APIKey string `json:"api_key"`
	}
	body := createKeyRequest{Name: name, Description: description, IsAdmin: isAdmin}
	if _, err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/auth", body, &created); err != nil {
		return "", err
	}
	return created.APIKey, nil
}

// DeleteAPIKey removes the named credential, reporting whether it existed.
// Requires an admin key.
func (c *Client) DeleteAPIKey(ctx context.Context, name string) (bool, error) {
	if _, err := c.doJSON(ctx, http.MethodDelete, apiPrefix+"/auth/"+url.PathEscape(name), nil, nil); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownAPIKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RegisterAlertSystem registers an alert system, reporting whether it was new.
func (c *Client) RegisterAlertSystem(ctx context.Context, name string) (bool, error) {
	status, err := c.doJSON(ctx, http.MethodPut, apiPrefix+"/ams/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusCreated, nil
}

// UnregisterAlertSystem removes an alert system, reporting whether it existed.
func (c *Client) UnregisterAlertSystem(ctx context.Context, name string) (bool, error) {
	if _, err := c.doJSON(ctx, http.MethodDelete, apiPrefix+"/ams/"+url.PathEscape(name), nil, nil); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnknownAlertSystem) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetAlerts polls an alert system's queue. A nil timeout drains every queued
// alert; otherwise the call blocks up to timeout for a single alert.
func (c *Client) GetAlerts(ctx context.Context, name string, timeout *time.Duration) ([]string, error) {
	path := apiPrefix + "/ams/" + url.PathEscape(name)
	if timeout != nil {
		path += "?timeout=" + strconv.Itoa(int(*timeout/time.Second))
	}
	var alerts []string
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}
