package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

func newProtectedRouter(role models.UserRole, allowed ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/q", JWT(stubValidator{claims: &models.JWTClaims{UserID: "u-1", Role: role}}), RequireRoles(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestJWTAndRBAC(t *testing.T) {
	cases := []struct {
		name    string
		role    models.UserRole
		auth    string
		query   string
		upgrade bool
		want    int
	}{
		{name: "missing header", role: models.RoleNurse, want: http.StatusUnauthorized},
		{name: "malformed header", role: models.RoleNurse, auth: "Token good", want: http.StatusUnauthorized},
		{name: "bad token", role: models.RoleNurse, auth: "Bearer bad", want: http.StatusUnauthorized},
		{name: "allowed role", role: models.RoleNurse, auth: "Bearer good", want: http.StatusOK},
		{name: "forbidden role", role: models.RoleReceptionist, auth: "Bearer good", want: http.StatusForbidden},
		{name: "query token on plain request", role: models.RoleNurse, query: "?access_token=good", want: http.StatusUnauthorized},
		{name: "query token on websocket upgrade", role: models.RoleNurse, query: "?access_token=good", upgrade: true, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newProtectedRouter(tc.role, models.RoleAdmin, models.RoleDoctor, models.RoleNurse)
			req := httptest.NewRequest(http.MethodGet, "/q"+tc.query, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			if tc.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
