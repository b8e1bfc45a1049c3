package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/helpdesk-service/api"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpdesk-service/internal/observability"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"
	PathSwagger = "/swagger"
)

// Deps are the handlers and middleware inputs the router wires together.
type Deps struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Tickets  *handler.TicketHandler
	Accounts *handler.AccountHandler

	AuthService *service.AuthService
	Metrics     *observability.Metrics
	Log         *zap.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(
		observability.RequestID(),
		observability.Tracing(),
		observability.ZapLogger(d.Log),
		d.Metrics.GinMiddleware(),
		gin.Recovery(),
	)

	r.GET(PathHealth, d.Health.Health)
	r.GET(PathReady, d.Health.Ready)
	if d.Metrics != nil {
		r.GET(PathMetrics, gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	r.GET(PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, PathSwagger+"/") })
	r.GET(PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = PathSwagger + "/index.html"
			c.Request.RequestURI = PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", d.Auth.Login)

	authed := v1.Group("", handler.RequireAuth(d.AuthService, d.Log))
	{
		authed.GET("/auth/me", d.Auth.Me)
		authed.POST("/auth/change-password", d.Auth.ChangePassword)

		authed.GET("/tickets", d.Tickets.List)
		authed.POST("/tickets", d.Tickets.Create)
		authed.GET("/tickets/:id", d.Tickets.Get)
		authed.PATCH("/tickets/:id", d.Tickets.Edit)
		authed.GET("/tickets/:id/updates", d.Tickets.History)
		authed.POST("/tickets/:id/assign", d.Tickets.Assign)
		authed.POST("/tickets/:id/start", d.Tickets.Start)
		authed.POST("/tickets/:id/pend", d.Tickets.Pend)
		authed.POST("/tickets/:id/comment", d.Tickets.Comment)
		authed.POST("/tickets/:id/close", d.Tickets.Close)

		authed.GET("/stores", d.Accounts.ListStores)
		authed.GET("/networks", d.Accounts.ListNetworks)
	}

	admin := authed.Group("/admin")
	{
		admin.GET("/users", d.Accounts.ListUsers)
		admin.POST("/users", d.Accounts.CreateUser)
		admin.PATCH("/users/:id", d.Accounts.UpdateUser)

		admin.GET("/stores", d.Accounts.ListStores)
		admin.POST("/stores", d.Accounts.CreateStore)
		admin.PATCH("/stores/:id", d.Accounts.UpdateStore)

		admin.POST("/networks", d.Accounts.CreateNetwork)
		admin.PATCH("/networks/:id", d.Accounts.UpdateNetwork)

		admin.GET("/clients/:id/access", d.Accounts.ListGrants)
		admin.POST("/clients/:id/stores/:store_id", d.Accounts.GrantStore)
		admin.DELETE("/clients/:id/stores/:store_id", d.Accounts.RevokeStore)
		admin.POST("/clients/:id/networks/:network_id", d.Accounts.GrantNetwork)
		admin.DELETE("/clients/:id/networks/:network_id", d.Accounts.RevokeNetwork)
	}

	return r
}
