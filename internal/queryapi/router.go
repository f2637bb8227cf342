package queryapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence"
)

// NewRouter builds the gin engine exposing the read-only query surface at
// the root and the operator-command surface under /admin.
//
// Grounded on cmd/server/main.go's gin.New() + gzip/cors middleware chain.
func NewRouter(registry *estimator.Registry, adapter persistence.Adapter, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(cors.Default())

	queryHandler := NewHandler(registry, adapter, cfg)
	queryHandler.Register(&r.RouterGroup)

	admin := r.Group("/admin")
	admin.Use(AuthRequired(cfg.JWTSigningSecret))
	admin.Use(RoleRequired(RoleAdmin))
	NewAdminHandler(registry).Register(admin)

	r.GET("/healthz", func(c *gin.Context) { ok(c, 200, gin.H{"status": "ok"}) })

	return r
}
