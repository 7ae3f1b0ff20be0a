package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/internal/usecase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoActor(t *testing.T, got *usecase.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	auth := NewAuthenticator("test-secret", "settlement", "")
	userToken, err := auth.Issue("u1", usecase.RoleUser, time.Hour)
	require.NoError(t, err)
	adminToken, err := auth.Issue("a1", usecase.RoleAdmin, time.Hour)
	require.NoError(t, err)
	systemToken, err := auth.Issue("s1", usecase.RoleSystem, time.Hour)
	require.NoError(t, err)
	expired, err := auth.Issue("u1", usecase.RoleUser, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret", "settlement", "").Issue("u1", usecase.RoleUser, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name     string
		header   string
		query    string
		wantCode int
		want     usecase.Actor
	}{
		{"user", "Bearer " + userToken, "", http.StatusNoContent, usecase.Actor{UserID: "u1", Role: usecase.RoleUser}},
		{"admin", "Bearer " + adminToken, "", http.StatusNoContent, usecase.Actor{UserID: "a1", Role: usecase.RoleAdmin}},
		{"system role is downgraded", "Bearer " + systemToken, "", http.StatusNoContent, usecase.Actor{UserID: "s1", Role: usecase.RoleUser}},
		{"query token", "", userToken, http.StatusNoContent, usecase.Actor{UserID: "u1", Role: usecase.RoleUser}},
		{"missing", "", "", http.StatusUnauthorized, usecase.Actor{}},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, usecase.Actor{}},
		{"wrong key", "Bearer " + foreign, "", http.StatusUnauthorized, usecase.Actor{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got usecase.Actor
			target := "/"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			auth.RequireAuth(echoActor(t, &got)).ServeHTTP(rec, req)
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	auth := NewAuthenticator("test-secret", "", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ParseAndValidate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAcceptsSubjectOnly(t *testing.T) {
	auth := NewAuthenticator("test-secret", "", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := auth.ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, "u9", claims.CallerID())
}

func TestRequireAdmin(t *testing.T) {
	var got usecase.Actor
	h := RequireAdmin(echoActor(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), usecase.Actor{UserID: "u1", Role: usecase.RoleUser}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), usecase.Actor{UserID: "a1", Role: usecase.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "a1", got.UserID)
}
