package redx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/pkg/carrier/redx"
)

func newHTTPClient(t *testing.T, handler http.HandlerFunc) *redx.HTTPAPIClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return redx.NewHTTPAPIClient(redx.HTTPAPIClientConfig{BaseURL: srv.URL, AccessToken: "token"})
}

func TestHTTPAPIClient_CreateParcel(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parcel", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("API-ACCESS-TOKEN"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"tracking_id":"21A427TU4BN3R"}`))
	})

	resp, err := client.CreateParcel(context.Background(), &redx.ParcelRequest{MerchantInvoiceID: "1001"})
	require.NoError(t, err)
	assert.Equal(t, "21A427TU4BN3R", resp.TrackingID)
}

func TestHTTPAPIClient_ValidationError(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"validation_errors":[{"field":"customer_phone","message":"must be a valid phone"}]}`))
	})

	_, err := client.CreateParcel(context.Background(), &redx.ParcelRequest{})

	var apiErr *redx.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "customer_phone: must be a valid phone", apiErr.Message)
}

func TestHTTPAPIClient_GetParcelInfo(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parcel/info/21A427TU4BN3R", r.URL.Path)
		w.Write([]byte(`{"parcel":{"tracking_id":"21A427TU4BN3R","status":"delivery-in-progress","charge":60}}`))
	})

	resp, err := client.GetParcelInfo(context.Background(), "21A427TU4BN3R")
	require.NoError(t, err)
	assert.Equal(t, "delivery-in-progress", resp.Parcel.Status)
	assert.Equal(t, 60.0, resp.Parcel.Charge.Value)
}

func TestHTTPAPIClient_GetAreas_Unauthorized(t *testing.T) {
	client := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid token"}`))
	})

	_, err := client.GetAreas(context.Background())

	var apiErr *redx.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid token", apiErr.Message)
}
