package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const HeaderWebhookToken = "X-Webhook-Token"

type WebhookHandler struct {
	service DispatchService
	logger  *slog.Logger
}

// HandleGatewayCallback authenticates the caller before the body is looked at.
func (h *WebhookHandler) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	authorized, err := h.service.Authenticate(r.Context(), presentedSecret(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error resolving webhook secret", "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to authenticate callback")
		return
	}
	if !authorized {
		ErrorWithCode(w, r, http.StatusUnauthorized, "Invalid or missing webhook secret", "unauthorized")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body == nil {
		ErrorWithCode(w, r, http.StatusBadRequest, "Request body must be a JSON object", "invalid_json")
		return
	}

	if err := h.service.HandleCallback(r.Context(), body); err != nil {
		if DomainError(w, r, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "Error applying callback", "error", err)
		Error(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func presentedSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get(HeaderWebhookToken)
}

func RegisterWebhookHandler(r chi.Router, service DispatchService, logger *slog.Logger) {
	h := &WebhookHandler{
		service: service,
		logger:  logger.With(slog.String("component", "webhook_handler")),
	}

	r.Post("/v1/webhooks/gateway", h.HandleGatewayCallback)
}
