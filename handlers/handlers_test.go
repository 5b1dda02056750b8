package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"auth-server/database"
	"auth-server/grants"
	"auth-server/models"
	"auth-server/registry"
	"auth-server/store"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umakantv/go-utils/httpserver"
	"github.com/umakantv/go-utils/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
	os.Exit(m.Run())
}

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request)

// route registers h the way httpserver does, with the route details and a
// caller identity injected into the context
func route(router *mux.Router, name, method, path string, h handlerFunc) {
	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, httpserver.RouteNameKey, name)
		ctx = context.WithValue(ctx, httpserver.RouteMethodKey, method)
		ctx = context.WithValue(ctx, httpserver.RoutePathKey, path)
		ctx = context.WithValue(ctx, httpserver.AuthTypeKey, "bearer")
		ctx = context.WithValue(ctx, httpserver.RequestAuthKey, httpserver.RequestAuth{Type: "bearer", Client: "test"})
		h(ctx, w, r)
	}).Methods(method).Name(name)
}

func newRouter(t *testing.T, opts ...grants.Option) *mux.Router {
	t.Helper()
	ctx := context.Background()

	conn, err := database.Open(filepath.Join(t.TempDir(), "idp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = database.Migrate(ctx, conn.DB)
	require.NoError(t, err)

	s := store.NewSQLStore(conn)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertClients(ctx, []models.Client{{
		ClientID:                     "mvc",
		ClientName:                   "MVC Client",
		Enabled:                      true,
		SecretHash:                   models.SHA256Secret("secret"),
		RequireClientSecret:          true,
		AllowedGrantTypes:            []models.GrantType{models.GrantTypeAuthorizationCode},
		AllowedScopes:                []string{"openid", "api1"},
		RedirectURIs:                 []string{"http://localhost:5002/signin-oidc"},
		AccessTokenLifetime:          3600,
		IdentityTokenLifetime:        300,
		AuthorizationCodeLifetime:    300,
		AbsoluteRefreshTokenLifetime: 2592000,
		Created:                      created,
	}}))
	require.NoError(t, s.InsertIdentityResources(ctx, []models.IdentityResource{{
		Name: "openid", DisplayName: "Your user identifier", Enabled: true, Required: true,
		ShowInDiscoveryDocument: true, UserClaims: []string{"sub"}, Created: created,
	}}))
	require.NoError(t, s.InsertApiResources(ctx, []models.ApiResource{{
		Name: "api1", DisplayName: "My API", Enabled: true,
		UserClaims: []string{}, Scopes: []string{"api1"}, Created: created,
	}}))

	reg := registry.New(s)
	clients := NewOAuthClientHandler(reg)
	tokens := NewOAuthTokenHandler(grants.NewManager(s, reg, opts...), reg)

	router := mux.NewRouter()
	route(router, "GetClient", "GET", "/clients/{client_id}", clients.GetClient)
	route(router, "AuthenticateClient", "POST", "/clients/{client_id}/authenticate", clients.AuthenticateClient)
	route(router, "GetIdentityResource", "GET", "/resources/identity/{name}", clients.GetIdentityResource)
	route(router, "GetApiResource", "GET", "/resources/api/{name}", clients.GetApiResource)
	grantRoutes(router, tokens)
	return router
}

func grantRoutes(router *mux.Router, tokens *OAuthTokenHandler) {
	route(router, "IssueGrant", "POST", "/grants", tokens.IssueGrant)
	route(router, "ListGrants", "GET", "/grants", tokens.ListGrants)
	route(router, "RevokeGrants", "DELETE", "/grants", tokens.RevokeGrants)
	route(router, "ConsumeGrant", "POST", "/grants/{key}/consume", tokens.ConsumeGrant)
	route(router, "ValidateGrant", "GET", "/grants/{key}", tokens.ValidateGrant)
	route(router, "RevokeGrant", "DELETE", "/grants/{key}", tokens.RevokeGrant)
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestGetClient(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	rec := do(t, router, "GET", "/clients/mvc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "mvc", got["client_id"])
	assert.NotContains(t, got, "secret_hash")
	assert.NotContains(t, rec.Body.String(), "sha256:")

	rec = do(t, router, "GET", "/clients/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthenticateClient(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	rec := do(t, router, "POST", "/clients/mvc/authenticate", AuthenticateRequest{ClientSecret: "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "POST", "/clients/mvc/authenticate", AuthenticateRequest{ClientSecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/clients/mvc/authenticate", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetResources(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/resources/identity/openid", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/resources/identity/email", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/resources/api/api1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/resources/api/api2", nil).Code)
}

func TestGrantEndpoints(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	rec := do(t, router, "POST", "/grants", IssueRequest{
		Type:      models.AuthorizationCodeGrant,
		SubjectID: "alice",
		ClientID:  "mvc",
		Data:      []byte(`{"scopes":["openid"]}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var issued IssueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.NotEmpty(t, issued.Key)
	assert.Equal(t, 300, issued.ExpiresIn, "defaults to the client's code lifetime")

	// one-shot codes cannot be validated
	rec = do(t, router, "GET", "/grants/"+issued.Key, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "POST", "/grants/"+issued.Key+"/consume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var consumed models.PersistedGrant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &consumed))
	assert.Equal(t, "alice", consumed.SubjectID)
	assert.JSONEq(t, `{"scopes":["openid"]}`, string(consumed.Data))

	rec = do(t, router, "POST", "/grants/"+issued.Key+"/consume", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "POST", "/grants", IssueRequest{
		Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Equal(t, 60, issued.ExpiresIn)

	rec = do(t, router, "GET", "/grants/"+issued.Key, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/grants?subject_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)

	rec = do(t, router, "DELETE", "/grants/"+issued.Key, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, "DELETE", "/grants/"+issued.Key, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, "GET", "/grants/"+issued.Key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueGrantRejectsBadInput(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	tests := []struct {
		name string
		req  IssueRequest
		want int
	}{
		{"missing client", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice"}, http.StatusBadRequest},
		{"unknown client", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "ghost"}, http.StatusBadRequest},
		{"unknown client with ttl", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "ghost", TTLSeconds: 10}, http.StatusBadRequest},
		{"unknown type", IssueRequest{Type: "id_token", SubjectID: "alice", ClientID: "mvc", TTLSeconds: 10}, http.StatusBadRequest},
		{"negative ttl", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: -1}, http.StatusBadRequest},
		{"ttl past duration range", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: 20000000000}, http.StatusBadRequest},
		{"ttl past max lifetime", IssueRequest{Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: int(grants.MaxLifetime/time.Second) + 1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, "POST", "/grants", tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRevokeGrants(t *testing.T) {
	t.Parallel()
	router := newRouter(t)

	for i := 0; i < 3; i++ {
		rec := do(t, router, "POST", "/grants", IssueRequest{
			Type: models.UserConsentGrant, SubjectID: "bob", ClientID: "mvc",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, router, "DELETE", "/grants", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "subject is required")

	rec = do(t, router, "DELETE", "/grants?subject_id=bob&client_id=mvc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":3}`, rec.Body.String())
}

// failingGrants answers every call with err
type failingGrants struct {
	err error
}

func (f failingGrants) Issue(context.Context, models.PersistedGrantType, string, string, []byte, time.Duration) (string, error) {
	return "", f.err
}

func (f failingGrants) ConsumeGrant(context.Context, string) (models.PersistedGrant, error) {
	return models.PersistedGrant{}, f.err
}

func (f failingGrants) ValidateGrant(context.Context, string) (models.PersistedGrant, error) {
	return models.PersistedGrant{}, f.err
}

func (f failingGrants) Revoke(context.Context, string) error {
	return f.err
}

func (f failingGrants) RevokeAll(context.Context, models.GrantFilter) (int64, error) {
	return 0, f.err
}

func (f failingGrants) List(context.Context, models.GrantFilter) ([]models.PersistedGrant, error) {
	return nil, f.err
}

func TestGrantErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		want       int
		retryAfter bool
	}{
		{"not found", grants.ErrGrantNotFound, http.StatusNotFound, false},
		{"expired", grants.ErrGrantExpired, http.StatusGone, false},
		{"type mismatch", grants.ErrGrantTypeMismatch, http.StatusConflict, false},
		{"invalid", fmt.Errorf("%w: unknown grant type", grants.ErrInvalidGrant), http.StatusBadRequest, false},
		{"store unavailable", fmt.Errorf("getting grant: %w", store.ErrUnavailable), http.StatusServiceUnavailable, true},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			grantRoutes(router, NewOAuthTokenHandler(failingGrants{err: tt.err}, nil))

			for _, req := range []struct{ method, path string }{
				{"GET", "/grants/k"},
				{"POST", "/grants/k/consume"},
				{"DELETE", "/grants/k"},
				{"GET", "/grants?subject_id=alice"},
				{"DELETE", "/grants?subject_id=alice"},
			} {
				rec := do(t, router, req.method, req.path, nil)
				assert.Equal(t, tt.want, rec.Code, "%s %s", req.method, req.path)
				if tt.retryAfter {
					assert.Equal(t, "1", rec.Header().Get("Retry-After"))
				} else {
					assert.Empty(t, rec.Header().Get("Retry-After"))
				}
			}
		})
	}
}

func TestExpiredGrantIsGone(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	router := newRouter(t, grants.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))

	rec := do(t, router, "POST", "/grants", IssueRequest{
		Type: models.RefreshTokenGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued IssueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	rec = do(t, router, "POST", "/grants", IssueRequest{
		Type: models.AuthorizationCodeGrant, SubjectID: "alice", ClientID: "mvc", TTLSeconds: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var code IssueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &code))

	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()

	assert.Equal(t, http.StatusGone, do(t, router, "GET", "/grants/"+issued.Key, nil).Code)
	assert.Equal(t, http.StatusGone, do(t, router, "POST", "/grants/"+code.Key+"/consume", nil).Code)
}
