package queryapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator may read the query surface; RoleAdmin may additionally
// issue operator commands under /admin.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// claims is the bearer token's payload. There is no user table here to
// cross-check against: the core trusts whatever issued the token (an
// upstream identity service) and validates only the signature and the
// role claim it carries.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthRequired validates a bearer token against secret and stashes its
// role claim in the gin context for RoleRequired to check.
//
// Grounded on internal/auth/middleware.go's RequireAuth/RequireRole pair
// and internal/auth/service.go's Claims/ValidateToken, simplified to drop
// the per-request database lookup that package does (there is no user or
// session store in this core).
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			c.Abort()
			return
		}

		cl, ok := token.Claims.(*claims)
		if !ok {
			fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "malformed token claims")
			c.Abort()
			return
		}

		c.Set("role", cl.Role)
		c.Next()
	}
}

// RoleRequired 403s unless AuthRequired has already stashed one of the
// allowed roles in the context.
func RoleRequired(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		roleStr, _ := role.(string)
		for _, a := range allowed {
			if roleStr == a {
				c.Next()
				return
			}
		}
		fail(c, http.StatusForbidden, "FORBIDDEN", "insufficient role for this operation")
		c.Abort()
	}
}
