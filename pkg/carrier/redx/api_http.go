package redx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateParcel creates a parcel. POST /parcel
func (c *HTTPAPIClient) CreateParcel(ctx context.Context, req *ParcelRequest) (*CreateParcelResponse, error) {
	var result CreateParcelResponse
	if err := c.call(ctx, http.MethodPost, "/parcel", req, &result); err != nil {
		return nil, err
	}
	if result.TrackingID == "" {
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Message: "parcel created without tracking_id"}
	}
	return &result, nil
}

// GetParcelInfo returns parcel details. GET /parcel/info/{tracking_id}
func (c *HTTPAPIClient) GetParcelInfo(ctx context.Context, trackingID string) (*ParcelInfoResponse, error) {
	var result ParcelInfoResponse
	if err := c.call(ctx, http.MethodGet, "/parcel/info/"+url.PathEscape(trackingID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAreas lists delivery areas. GET /areas
func (c *HTTPAPIClient) GetAreas(ctx context.Context) (*AreasResponse, error) {
	var result AreasResponse
	if err := c.call(ctx, http.MethodGet, "/areas", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

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
	req.Header.Set("User-Agent", "courierhub/1.0")
	req.Header.Set("API-ACCESS-TOKEN", "Bearer "+c.accessToken)

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		msg := er.Message
		if msg == "" {
			msg = er.Error
		}
		for _, v := range er.Validation {
			msg = strings.TrimSpace(fmt.Sprintf("%s %s: %s;", msg, v.Field, v.Message))
		}
		if msg != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSuffix(msg, ";")}
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
