package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tournevent/courierhub/internal/dispatch"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/internal/webhook"
	"github.com/tournevent/courierhub/pkg/carrier"
	"go.uber.org/zap"
)

type statusRequest struct {
	Status    carrier.OrderStatus `json:"status"`
	CarrierID string              `json:"carrier_id"`
}

type dispatchRequest struct {
	CarrierID string            `json:"carrier_id"`
	CODAmount *float64          `json:"cod_amount"`
	Note      string            `json:"note"`
	Extra     map[string]string `json:"extra"`
}

func (d dispatchRequest) params() carrier.ShipmentParams {
	return carrier.ShipmentParams{CODAmount: d.CODAmount, Note: d.Note, Extra: d.Extra}
}

type bulkRequest struct {
	dispatchRequest
	OrderIDs []string `json:"order_ids"`
}

type bulkResponse struct {
	Results []*dispatch.Result `json:"results"`
}

type contactJSON struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	Area    string `json:"area,omitempty"`
}

type lineItemJSON struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Weight    float64 `json:"weight,omitempty"`
}

// orderRequest is the host-side order pushed with PUT /orders/{orderID}.
type orderRequest struct {
	Number  string              `json:"number"`
	Status  carrier.OrderStatus `json:"status"`
	Billing contactJSON         `json:"billing"`
	Items   []lineItemJSON      `json:"items"`
	Total   float64             `json:"total"`
	Note    string              `json:"note,omitempty"`
}

func (o orderRequest) order(id string) *carrier.Order {
	items := make([]carrier.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, carrier.LineItem{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Weight: it.Weight})
	}
	status := o.Status
	if status == "" {
		status = carrier.OrderPending
	}
	return &carrier.Order{
		ID:     id,
		Number: o.Number,
		Status: status,
		Billing: carrier.Contact{
			Name:    o.Billing.Name,
			Phone:   o.Billing.Phone,
			Email:   o.Billing.Email,
			Address: o.Billing.Address,
			City:    o.Billing.City,
			Area:    o.Billing.Area,
		},
		Items: items,
		Total: o.Total,
		Note:  o.Note,
	}
}

type shipmentStatusResponse struct {
	OrderID         string                  `json:"order_id"`
	CanonicalStatus carrier.CanonicalStatus `json:"canonical_status"`
	RawStatus       string                  `json:"raw_status"`
	Message         string                  `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type validateResponse struct {
	CarrierID string `json:"carrier_id"`
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	res, err := s.engine.ChangeStatus(r.Context(), chi.URLParam(r, "orderID"), req.Status, req.CarrierID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	res, err := s.engine.RequestDispatch(r.Context(), chi.URLParam(r, "orderID"), req.CarrierID, req.params())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleBulkDispatch(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if len(req.OrderIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_ids is required"})
		return
	}

	results, err := s.engine.BulkDispatch(r.Context(), req.OrderIDs, req.CarrierID, req.params())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Results: results})
}

func (s *Server) handleUpsertOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order status: " + string(req.Status)})
		return
	}

	o := req.order(chi.URLParam(r, "orderID"))
	if err := s.store.UpsertOrder(r.Context(), o); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShipmentStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	st, err := s.reconciler.CheckStatus(r.Context(), orderID, r.URL.Query().Get("carrier_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentStatusResponse{
		OrderID:         orderID,
		CanonicalStatus: st.Status,
		RawStatus:       st.RawStatus,
		Message:         st.Message,
	})
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Carriers())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "carrierID")
	if err := s.engine.ValidateCredentials(r.Context(), id); err != nil {
		if errors.Is(err, carrier.ErrUnknownCarrier) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, validateResponse{CarrierID: id, Message: carrier.Message(err, "credential check failed")})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{CarrierID: id, Valid: true, Message: "credentials are valid"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, webhook.Response{Status: "error", Message: "payload too large"})
		return
	}

	resp := s.gateway.Handle(r.Context(), webhook.Request{
		CarrierID: chi.URLParam(r, "carrierID"),
		Header:    r.Header,
		Query:     r.URL.Query(),
		Body:      body,
		SourceIP:  sourceIP(r.RemoteAddr),
	})
	writeJSON(w, resp.HTTPStatus, resp)
}

// handleWebhookEvents exposes raw payloads, so it takes the webhook secret.
func (s *Server) handleWebhookEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := s.gateway.Authorize(r.Header, r.URL.Query()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.Events())
}

// sourceIP strips the port RemoteAddr carries unless RealIP rewrote it.
func sourceIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// resultStatus maps a dispatch result to an HTTP status. Selection and
// no-courier outcomes are answers, not errors.
func resultStatus(res *dispatch.Result) int {
	if res.State != dispatch.StateDispatchFailed {
		return http.StatusOK
	}
	if res.Err == nil {
		return http.StatusBadGateway
	}
	return statusFor(res.Err)
}

func statusFor(err error) int {
	var cerr *carrier.Error
	if errors.As(err, &cerr) && cerr.Code == carrier.CodeNotEnabled {
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, carrier.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrOrderNotFound), errors.Is(err, store.ErrShipmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, carrier.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrInvalidStatus),
		errors.Is(err, dispatch.ErrSelectionRequired),
		errors.Is(err, dispatch.ErrNoEnabledCarrier),
		errors.Is(err, carrier.ErrUnknownCarrier):
		return http.StatusBadRequest
	case errors.Is(err, carrier.ErrValidationFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, carrier.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, carrier.ErrCarrierAPIFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
