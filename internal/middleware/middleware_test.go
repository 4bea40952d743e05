package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/logger"
)

type staticValidator map[string]*models.JWTClaims

func (s staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type observed struct {
	method string
	path   string
	status int
}

type recordingObserver struct {
	calls []observed
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.calls = append(r.calls, observed{method: method, path: path, status: status})
}

func newRouter(observer RequestObserver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := staticValidator{
		"admin":   {UserID: 2, Role: models.RoleAdmin},
		"manager": {UserID: 7, Role: models.RoleManager},
	}
	r := gin.New()
	r.Use(Metrics(observer, "/metrics"))
	secured := r.Group("/", JWT(validator))
	secured.GET("/status", func(c *gin.Context) {
		claims, _ := Claims(c)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID, "operator": c.GetInt64(logger.OperatorKey)})
	})
	secured.POST("/revert", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoles(t *testing.T) {
	r := newRouter(nil)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{name: "missing token", method: http.MethodGet, path: "/status", status: http.StatusUnauthorized},
		{name: "unknown token", method: http.MethodGet, path: "/status", token: "forged", status: http.StatusUnauthorized},
		{name: "manager status", method: http.MethodGet, path: "/status", token: "manager", status: http.StatusOK},
		{name: "manager revert", method: http.MethodPost, path: "/revert", token: "manager", status: http.StatusForbidden},
		{name: "admin revert", method: http.MethodPost, path: "/revert", token: "admin", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, tc.method, tc.path, tc.token)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	r := newRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Token admin")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header")

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer ")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRolesNamesRejectedRole(t *testing.T) {
	r := newRouter(nil)
	w := serve(r, http.MethodPost, "/revert", "manager")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "role MANAGER may not use this endpoint")
}

func TestMetricsObservesRoutePattern(t *testing.T) {
	observer := &recordingObserver{}
	r := newRouter(observer)

	serve(r, http.MethodGet, "/status", "admin")
	serve(r, http.MethodGet, "/missing/42", "admin")
	serve(r, http.MethodGet, "/metrics", "")

	assert.Equal(t, []observed{
		{method: http.MethodGet, path: "/status", status: http.StatusOK},
		{method: http.MethodGet, path: "unmatched", status: http.StatusNotFound},
	}, observer.calls)
}
