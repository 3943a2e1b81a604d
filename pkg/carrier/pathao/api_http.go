package pathao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// tokenSkew renews access tokens slightly before they expire.
const tokenSkew = time.Minute

// HTTPAPIClient is the production implementation of APIClient using HTTP.
// Access tokens are cached until shortly before expiry.
type HTTPAPIClient struct {
	baseURL     string
	credentials TokenRequest
	httpClient  *http.Client
	now         func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		credentials: TokenRequest{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     cfg.Password,
			GrantType:    "password",
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// IssueToken requests a fresh access token. POST /aladdin/api/v1/issue-token
func (c *HTTPAPIClient) IssueToken(ctx context.Context) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/aladdin/api/v1/issue-token", "", c.credentials)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "token response without access_token"}
	}

	c.mu.Lock()
	c.token = result.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return &result, nil
}

// accessToken returns a cached token or issues a new one.
func (c *HTTPAPIClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.Unlock()

	if token != "" && c.now().Add(tokenSkew).Before(expiry) {
		return token, nil
	}

	result, err := c.IssueToken(ctx)
	if err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

// CreateOrder creates a delivery order. POST /aladdin/api/v1/orders
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	if err := c.authorizedCall(ctx, http.MethodPost, "/aladdin/api/v1/orders", req, &result); err != nil {
		return nil, err
	}
	if result.Code != http.StatusOK || result.Data.ConsignmentID == "" {
		return nil, &APIError{StatusCode: result.Code, Message: result.Message}
	}
	return &result, nil
}

// GetOrderInfo returns order details. GET /aladdin/api/v1/orders/{consignment_id}/info
func (c *HTTPAPIClient) GetOrderInfo(ctx context.Context, consignmentID string) (*OrderInfoResponse, error) {
	path := fmt.Sprintf("/aladdin/api/v1/orders/%s/info", url.PathEscape(consignmentID))

	var result OrderInfoResponse
	if err := c.authorizedCall(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// authorizedCall performs a request with a bearer token. A 401 drops the
// cached token and retries once with a fresh one.
func (c *HTTPAPIClient) authorizedCall(ctx context.Context, method, path string, body, out interface{}) error {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}

		resp, err := c.doRequest(ctx, method, path, token, body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err := c.parseError(resp)
			resp.Body.Close()
			return err
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return nil
	}
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "courierhub/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Message != "" || len(env.Errors) > 0) {
		msg := env.Message
		if len(env.Errors) > 0 {
			msg = strings.TrimSpace(msg + " " + flattenErrors(env.Errors))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

func flattenErrors(errs map[string][]string) string {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(errs[f], " "))
	}
	return strings.Join(parts, "; ")
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
