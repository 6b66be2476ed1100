package receiver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/openmined/backuprelay/internal/receiver/handlers/api"
	"github.com/openmined/backuprelay/internal/receiver/handlers/backup"
	"github.com/openmined/backuprelay/internal/receiver/handlers/stats"
	"github.com/openmined/backuprelay/internal/receiver/middlewares"
	"github.com/openmined/backuprelay/internal/version"
)

func SetupRoutes(cfg *Config, svc *Services) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB, larger parts spill to disk

	backupH := backup.New(svc.Archive)
	statsH := stats.New(svc.Archive)

	r.Use(middlewares.Logger("/health"))
	r.Use(gin.Recovery())
	if cfg.TLSEnabled() {
		r.Use(middlewares.Secure())
	}
	// archives are already compressed, only the JSON routes benefit
	r.Use(gzip.Gzip(gzip.BestSpeed, gzip.WithExcludedPaths([]string{"/backup"})))
	r.Use(cors.Default())

	r.GET("/", IndexHandler)
	r.GET("/health", HealthHandler)
	r.GET("/stats", statsH.Stats)

	uploadChain := []gin.HandlerFunc{}
	if cfg.HTTP.RateLimit != "" {
		limit, err := middlewares.RateLimiter(cfg.HTTP.RateLimit)
		if err != nil {
			return nil, err
		}
		uploadChain = append(uploadChain, limit)
	}
	uploadChain = append(uploadChain, backupH.Upload)
	r.POST("/backup", uploadChain...)

	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		api.Abort(c, http.StatusNotFound, api.CodeNotFound, "no route "+c.Request.URL.Path)
	})
	r.NoMethod(func(c *gin.Context) {
		api.Abort(c, http.StatusMethodNotAllowed, api.CodeMethodNotAllowed, c.Request.Method+" not allowed on "+c.Request.URL.Path)
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
