package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelms/securelms/internal/db/models"
)

type fakeUserStore struct {
	users []*models.User
}

func (s *fakeUserStore) ListUsers(_ context.Context, limit, offset int) ([]*models.User, error) {
	if offset >= len(s.users) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.users) {
		end = len(s.users)
	}
	return s.users[offset:end], nil
}

func (s *fakeUserStore) CountUsers(_ context.Context) (int, error) {
	return len(s.users), nil
}

func newUsersRouter(store *fakeUserStore) *gin.Engine {
	h := NewUserHandlers(store)
	r := gin.New()
	r.GET("/admin/users", h.ListUsersHandler())
	return r
}

func TestListUsersHandler(t *testing.T) {
	locked := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeUserStore{users: []*models.User{
		{ID: "u1", Email: "admin@example.com", Role: "SYSTEM_ADMIN", ClearanceLevel: "CONFIDENTIAL", PasswordHash: "$argon2id$hidden", MFAEnabled: true},
		{ID: "u2", Email: "student@example.com", Role: "STUDENT", ClearanceLevel: "PUBLIC", FailedLoginCount: 5, LockedUntil: &locked},
	}}
	r := newUsersRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin/users", nil))

	require.Equal(t, http.StatusOK, w.Code, "body=%s", w.Body.String())
	var resp struct {
		Users []map[string]any `json:"users"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, 2, resp.Pagination.Total)

	assert.Equal(t, "admin@example.com", resp.Users[0]["email"])
	assert.Equal(t, true, resp.Users[0]["mfa_enabled"])
	assert.Equal(t, float64(5), resp.Users[1]["failed_login_count"])

	// Sensitive fields must not be marshaled.
	_, hasHash := resp.Users[0]["password_hash"]
	assert.False(t, hasHash, "password hash leaked in response")
	_, hasSecret := resp.Users[0]["mfa_secret"]
	assert.False(t, hasSecret, "MFA secret leaked in response")
}

func TestListUsersHandler_Pagination(t *testing.T) {
	store := &fakeUserStore{users: []*models.User{
		{ID: "u1", Email: "a@example.com"},
		{ID: "u2", Email: "b@example.com"},
		{ID: "u3", Email: "c@example.com"},
	}}
	r := newUsersRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin/users?page=2&per_page=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Users []map[string]any `json:"users"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Users, 1)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, 3, resp.Pagination.Total)
}
