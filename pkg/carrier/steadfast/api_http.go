package steadfast

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
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder places a consignment. POST /create_order
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	if err := c.call(ctx, http.MethodPost, "/create_order", req, &result); err != nil {
		return nil, err
	}
	if result.Status != http.StatusOK {
		return nil, &APIError{StatusCode: result.Status, Message: result.Message}
	}
	return &result, nil
}

// CreateBulkOrders places several consignments. POST /create_order/bulk-order
func (c *HTTPAPIClient) CreateBulkOrders(ctx context.Context, req []OrderRequest) (*BulkOrderResponse, error) {
	var result BulkOrderResponse
	if err := c.call(ctx, http.MethodPost, "/create_order/bulk-order", bulkOrderRequest{Data: req}, &result); err != nil {
		return nil, err
	}
	if result.Status != 0 && result.Status != http.StatusOK {
		return nil, &APIError{StatusCode: result.Status, Message: result.Message}
	}
	return &result, nil
}

// GetStatus looks up a consignment status. GET /status_by_{kind}/{identifier}
func (c *HTTPAPIClient) GetStatus(ctx context.Context, lookup LookupKind, identifier string) (*StatusResponse, error) {
	path := fmt.Sprintf("/%s/%s", lookup, url.PathEscape(identifier))

	var result StatusResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if result.Status != http.StatusOK {
		msg := result.Message
		if msg == "" {
			msg = "consignment not found"
		}
		return nil, &APIError{StatusCode: result.Status, Message: msg}
	}
	return &result, nil
}

// GetBalance returns the merchant balance. GET /get_balance
func (c *HTTPAPIClient) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	var result BalanceResponse
	if err := c.call(ctx, http.MethodGet, "/get_balance", nil, &result); err != nil {
		return nil, err
	}
	if result.Status != http.StatusOK {
		return nil, &APIError{StatusCode: result.Status, Message: "balance request rejected"}
	}
	return &result, nil
}

// call performs a request and decodes a 2xx JSON body into out.
func (c *HTTPAPIClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
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
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Secret-Key", c.secretKey)
	req.Header.Set("User-Agent", "courierhub/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Message != "" || len(apiErr.Errors) > 0) {
		msg := apiErr.Message
		if msg == "" {
			msg = flattenErrors(apiErr.Errors)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Errors: apiErr.Errors}
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
		parts = append(parts, strings.Join(errs[f], " "))
	}
	return strings.Join(parts, "; ")
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
