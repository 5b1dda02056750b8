package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auth-server/grants"
	"auth-server/models"
	"auth-server/registry"

	"github.com/gorilla/mux"
	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// GrantService is the grant lifecycle as seen by the HTTP layer
type GrantService interface {
	Issue(ctx context.Context, typ models.PersistedGrantType, subjectID, clientID string, payload []byte, ttl time.Duration) (string, error)
	ConsumeGrant(ctx context.Context, key string) (models.PersistedGrant, error)
	ValidateGrant(ctx context.Context, key string) (models.PersistedGrant, error)
	Revoke(ctx context.Context, key string) error
	RevokeAll(ctx context.Context, filter models.GrantFilter) (int64, error)
	List(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error)
}

// OAuthTokenHandler serves the persisted grant endpoints used by the token
// and authorize flows
type OAuthTokenHandler struct {
	grants  GrantService
	clients ClientRegistry
}

// NewOAuthTokenHandler creates a new grant handler
func NewOAuthTokenHandler(gs GrantService, clients ClientRegistry) *OAuthTokenHandler {
	return &OAuthTokenHandler{grants: gs, clients: clients}
}

// IssueRequest is the body of POST /grants. Data travels base64 encoded.
// A zero TTLSeconds uses the lifetime the client configures for the type.
type IssueRequest struct {
	Type       models.PersistedGrantType `json:"type"`
	SubjectID  string                    `json:"subject_id"`
	ClientID   string                    `json:"client_id"`
	Data       []byte                    `json:"data"`
	TTLSeconds int                       `json:"ttl_seconds,omitempty"`
}

// IssueResponse carries the handle; it is the only time the handle is shown
type IssueResponse struct {
	Key       string                    `json:"key"`
	Type      models.PersistedGrantType `json:"type"`
	ExpiresIn int                       `json:"expires_in"`
}

// IssueGrant handles POST /grants
func (h *OAuthTokenHandler) IssueGrant(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("client_id is required"))
		return
	}
	if req.TTLSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("ttl_seconds must be positive"))
		return
	}
	if int64(req.TTLSeconds) > int64(grants.MaxLifetime/time.Second) {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("ttl_seconds is too large"))
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl == 0 {
		client, err := h.clients.ResolveClient(ctx, req.ClientID)
		if errors.Is(err, registry.ErrClientNotFound) {
			writeJSON(w, http.StatusBadRequest, errs.NewValidationError("unknown client_id"))
			return
		}
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		ttl = grants.LifetimeFor(client, req.Type)
	}

	key, err := h.grants.Issue(ctx, req.Type, req.SubjectID, req.ClientID, req.Data, ttl)
	if err != nil {
		logRequest(ctx, "info", "Grant not issued",
			zap.String("client_id", req.ClientID),
			zap.String("type", string(req.Type)),
			zap.Error(err))
		if errors.Is(err, grants.ErrClientNotFound) {
			writeJSON(w, http.StatusBadRequest, errs.NewValidationError("unknown client_id"))
			return
		}
		writeError(ctx, w, err)
		return
	}

	logRequest(ctx, "info", "Grant issued",
		zap.String("client_id", req.ClientID),
		zap.String("type", string(req.Type)))
	writeJSON(w, http.StatusCreated, IssueResponse{
		Key:       key,
		Type:      req.Type,
		ExpiresIn: int(ttl / time.Second),
	})
}

// ConsumeGrant handles POST /grants/{key}/consume
func (h *OAuthTokenHandler) ConsumeGrant(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	g, err := h.grants.ConsumeGrant(ctx, mux.Vars(r)["key"])
	if err != nil {
		logRequest(ctx, "info", "Grant not consumed", zap.Error(err))
		writeError(ctx, w, err)
		return
	}

	logRequest(ctx, "info", "Grant consumed", zap.String("client_id", g.ClientID), zap.String("type", string(g.Type)))
	writeJSON(w, http.StatusOK, g)
}

// ValidateGrant handles GET /grants/{key}
func (h *OAuthTokenHandler) ValidateGrant(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	g, err := h.grants.ValidateGrant(ctx, mux.Vars(r)["key"])
	if err != nil {
		logRequest(ctx, "debug", "Grant not valid", zap.Error(err))
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// RevokeGrant handles DELETE /grants/{key}. Unknown keys are not an error.
func (h *OAuthTokenHandler) RevokeGrant(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := h.grants.Revoke(ctx, mux.Vars(r)["key"]); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func filterFromQuery(r *http.Request) models.GrantFilter {
	q := r.URL.Query()
	return models.GrantFilter{
		SubjectID: q.Get("subject_id"),
		ClientID:  q.Get("client_id"),
		Type:      models.PersistedGrantType(q.Get("type")),
	}
}

// ListGrants handles GET /grants?subject_id=&client_id=&type=
func (h *OAuthTokenHandler) ListGrants(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	list, err := h.grants.List(ctx, filterFromQuery(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"grants": list,
		"count":  len(list),
	})
}

// RevokeGrants handles DELETE /grants?subject_id=&client_id=&type=
func (h *OAuthTokenHandler) RevokeGrants(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	n, err := h.grants.RevokeAll(ctx, filter)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	logRequest(ctx, "info", "Grants revoked", zap.String("subject_id", filter.SubjectID), zap.Int64("count", n))
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}
