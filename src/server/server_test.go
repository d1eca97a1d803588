package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lumendb/src/auth"
	"lumendb/src/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, authEnabled bool) *Server {
	t.Helper()

	config := &settings.Arguments{
		DataDir:            t.TempDir(),
		JournalDir:         t.TempDir(),
		MaxJournalFileSize: 1000000,
		Host:               "127.0.0.1",
		Port:               0,
		AuthEnabled:        authEnabled,
		DocumentCacheSize:  16,
	}

	srv, err := InitServer(config)
	require.NoError(t, err)
	t.Cleanup(func() { srv.manager.Close() })

	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestCollectionAndDocumentEndpoints(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/collections", `{"name": "orders"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate name conflicts.
	rec = do(t, srv, http.MethodPost, "/collections", `{"name": "orders"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/collections/orders/documents",
		`{"_id": "o1", "customerId": "cust001", "total": 129.99}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/collections/orders/query",
		`{"customerId": "cust001"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Count     int                      `json:"count"`
		Documents []map[string]interface{} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "o1", result.Documents[0]["_id"])

	rec = do(t, srv, http.MethodPatch, "/collections/orders/documents/o1",
		`{"$set": {"status": "completed"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/collections/orders/documents/o1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/collections/orders/documents/o1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/collections/orders", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIndexAndAggregateEndpoints(t *testing.T) {
	srv := newTestServer(t, false)

	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/collections", `{"name": "orders"}`, nil).Code)
	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/collections/orders/indexes", `{"field": "customerId"}`, nil).Code)

	for _, body := range []string{
		`{"customerId": "cust001", "status": "completed", "total": 100}`,
		`{"customerId": "cust002", "status": "completed", "total": 500}`,
	} {
		require.Equal(t, http.StatusCreated,
			do(t, srv, http.MethodPost, "/collections/orders/documents", body, nil).Code)
	}

	rec := do(t, srv, http.MethodGet, "/collections/orders/indexes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "customerId")

	rec = do(t, srv, http.MethodPost, "/collections/orders/aggregate", `[
		{"$match": {"status": "completed"}},
		{"$group": {"_id": "$customerId", "totalSpent": {"$sum": "$total"}}},
		{"$sort": {"totalSpent": -1}}
	]`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Results, 2)
	assert.Equal(t, "cust002", result.Results[0]["_id"])

	// Unsupported stages map to 400.
	rec = do(t, srv, http.MethodPost, "/collections/orders/aggregate", `[{"$foo": {}}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/collections/orders/indexes/customerId/rebuild", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/collections/orders/indexes/customerId", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, true)
	require.NoError(t, srv.AddUser("admin", "admin123", auth.RoleAdmin))
	require.NoError(t, srv.AddUser("reader", "reader123", auth.RoleUser))

	// No token: unauthorized.
	rec := do(t, srv, http.MethodGet, "/collections", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bad credentials: unauthorized.
	rec = do(t, srv, http.MethodPost, "/auth/login", `{"username": "admin", "password": "wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := func(username, password string) string {
		rec := do(t, srv, http.MethodPost, "/auth/login",
			`{"username": "`+username+`", "password": "`+password+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var token struct {
			Value string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
		return token.Value
	}

	adminToken := login("admin", "admin123")
	readerToken := login("reader", "reader123")

	authed := map[string]string{"Authorization": "Bearer " + readerToken}
	rec = do(t, srv, http.MethodGet, "/collections", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Backups require the admin role.
	rec = do(t, srv, http.MethodGet, "/admin/backups", "", authed)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminHeaders := map[string]string{"Authorization": "Bearer " + adminToken}
	rec = do(t, srv, http.MethodPost, "/admin/backups", "", adminHeaders)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, "/admin/backups", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ".zip")
}
