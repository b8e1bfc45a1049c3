package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"go.uber.org/zap"
)

const actorKey = "actor"

// RequireAuth resolves the bearer token to the acting user, or aborts with 401.
func RequireAuth(svc *service.AuthService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(c, log, errs.Unauthorized("missing bearer token"))
			return
		}
		user, err := svc.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.Set(actorKey, user)
		c.Next()
	}
}

func actor(c *gin.Context) *model.User {
	if v, ok := c.Get(actorKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}
