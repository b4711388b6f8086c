package payment

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"urembo-be/internal/daraja"
	"urembo-be/internal/logger"
	"urembo-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler exposes the payment service over HTTP.
type Handler struct {
	svc           Service
	callbackToken string
}

// NewHandler builds the /mpesa handlers. An empty callbackToken disables
// the callback token check.
func NewHandler(svc Service, callbackToken string) *Handler {
	return &Handler{svc: svc, callbackToken: callbackToken}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stkpush", h.STKPush)
	r.Post("/query", h.Query)
	r.Post("/callback", h.Callback)
	return r
}

func (h *Handler) STKPush(w http.ResponseWriter, r *http.Request) {
	var req STKPushRequest
	if err := decode(r, &req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.svc.InitiateSTKPush(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(r, &req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.svc.QueryStatus(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

// Callback always acknowledges a request carrying the right token, so
// Daraja does not redeliver payloads that can never be processed.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	if h.callbackToken != "" {
		got := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackToken)) != 1 {
			log.Warn("STK callback rejected", zap.Error(ErrInvalidCallbackToken))
			utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.svc.HandleCallback(r.Context(), body); err != nil {
		log.Error("STK callback not processed", zap.Error(err))
	}
	utils.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromCtx(r.Context())

	var vErr *ValidationError
	var ipErr *InProgressError
	var apiErr *daraja.APIError
	switch {
	case errors.As(err, &vErr):
		utils.WriteJSONError(w, vErr.Message, http.StatusBadRequest)
	case errors.As(err, &ipErr) && ipErr.CheckoutRequestID != "":
		utils.WriteJSON(w, http.StatusConflict, map[string]any{
			"success":           false,
			"message":           err.Error(),
			"checkoutRequestId": ipErr.CheckoutRequestID,
		})
	case errors.Is(err, ErrOrderInProgress):
		utils.WriteJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, daraja.ErrUpstreamUnavailable):
		log.Warn("M-Pesa unavailable", zap.Error(err))
		utils.WriteJSONError(w, "M-Pesa is temporarily unavailable. Please try again later.", http.StatusServiceUnavailable)
	case errors.As(err, &apiErr) && errors.Is(err, daraja.ErrUpstreamRejected):
		log.Warn("M-Pesa rejected request", zap.Error(err))
		msg := apiErr.Message
		if msg == "" {
			msg = "M-Pesa rejected the payment request"
		}
		utils.WriteJSONError(w, msg, http.StatusBadGateway)
	default:
		log.Error("payment request failed", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
