package handlers

import (
	"context"
	"net/http"

	"auth-server/models"

	"github.com/gorilla/mux"
	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// ClientRegistry is the read side of the seeded configuration
type ClientRegistry interface {
	ResolveClient(ctx context.Context, clientID string) (models.Client, error)
	AuthenticateClient(ctx context.Context, clientID, secret string) (models.Client, error)
	ResolveIdentityResource(ctx context.Context, name string) (models.IdentityResource, error)
	ResolveApiResource(ctx context.Context, name string) (models.ApiResource, error)
}

// OAuthClientHandler exposes registered clients and resources
type OAuthClientHandler struct {
	registry ClientRegistry
}

// NewOAuthClientHandler creates a new OAuth client handler
func NewOAuthClientHandler(reg ClientRegistry) *OAuthClientHandler {
	return &OAuthClientHandler{registry: reg}
}

// AuthenticateRequest is the body of POST /clients/{client_id}/authenticate
type AuthenticateRequest struct {
	ClientSecret string `json:"client_secret"`
}

// GetClient handles GET /clients/{client_id}
func (h *OAuthClientHandler) GetClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Invalid client ID"))
		return
	}

	client, err := h.registry.ResolveClient(ctx, clientID)
	if err != nil {
		logRequest(ctx, "debug", "Client lookup failed", zap.String("client_id", clientID), zap.Error(err))
		writeError(ctx, w, err)
		return
	}

	logRequest(ctx, "info", "Retrieved client", zap.String("client_id", clientID))
	writeJSON(w, http.StatusOK, client)
}

// AuthenticateClient handles POST /clients/{client_id}/authenticate. It
// verifies the presented secret against the stored hash.
func (h *OAuthClientHandler) AuthenticateClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	var req AuthenticateRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	client, err := h.registry.AuthenticateClient(ctx, clientID, req.ClientSecret)
	if err != nil {
		logRequest(ctx, "info", "Client authentication failed", zap.String("client_id", clientID), zap.Error(err))
		writeError(ctx, w, err)
		return
	}

	logRequest(ctx, "info", "Client authenticated", zap.String("client_id", clientID))
	writeJSON(w, http.StatusOK, client)
}

// GetIdentityResource handles GET /resources/identity/{name}
func (h *OAuthClientHandler) GetIdentityResource(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	res, err := h.registry.ResolveIdentityResource(ctx, name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetApiResource handles GET /resources/api/{name}
func (h *OAuthClientHandler) GetApiResource(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	res, err := h.registry.ResolveApiResource(ctx, name)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
