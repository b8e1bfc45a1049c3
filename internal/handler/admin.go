package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"go.uber.org/zap"
)

// AccountHandler serves the store and network catalogue and the admin area.
// The service enforces roles; routes only group them.
type AccountHandler struct {
	svc *service.AccountService
	log *zap.Logger
}

func NewAccountHandler(svc *service.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, log: log}
}

func (h *AccountHandler) ListStores(c *gin.Context) {
	stores, err := h.svc.ListStores(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": stores})
}

func (h *AccountHandler) ListNetworks(c *gin.Context) {
	networks, err := h.svc.ListNetworks(c.Request.Context(), actor(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": networks})
}

// ---- users ----

type createUserRequest struct {
	Username           string  `json:"username" binding:"required"`
	Role               string  `json:"role" binding:"required"`
	Password           *string `json:"password"`
	MustChangePassword *bool   `json:"must_change_password"`
}

func (h *AccountHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and role are required")
		return
	}
	u, err := h.svc.CreateUser(c.Request.Context(), actor(c), service.CreateUserInput{
		Username:           req.Username,
		Role:               req.Role,
		Password:           req.Password,
		MustChangePassword: req.MustChangePassword,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *AccountHandler) ListUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context(), actor(c), c.Query("role"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": users})
}

type updateUserRequest struct {
	Active             *bool   `json:"active"`
	MustChangePassword *bool   `json:"must_change_password"`
	Password           *string `json:"password"`
}

func (h *AccountHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	u, err := h.svc.UpdateUser(c.Request.Context(), actor(c), c.Param("id"), service.UpdateUserInput{
		Active:             req.Active,
		MustChangePassword: req.MustChangePassword,
		Password:           req.Password,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---- stores ----

type createStoreRequest struct {
	Name      string  `json:"name"`
	CNPJ      string  `json:"cnpj"`
	NetworkID *string `json:"network_id"`
}

func (h *AccountHandler) CreateStore(c *gin.Context) {
	var req createStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	s, err := h.svc.CreateStore(c.Request.Context(), actor(c), service.CreateStoreInput{
		Name: req.Name, CNPJ: req.CNPJ, NetworkID: req.NetworkID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type updateStoreRequest struct {
	Name      *string `json:"name"`
	Active    *bool   `json:"active"`
	NetworkID *string `json:"network_id"`
}

func (h *AccountHandler) UpdateStore(c *gin.Context) {
	var req updateStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	s, err := h.svc.UpdateStore(c.Request.Context(), actor(c), c.Param("id"), service.UpdateStoreInput{
		Name: req.Name, Active: req.Active, NetworkID: req.NetworkID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ---- networks ----

type createNetworkRequest struct {
	Name string `json:"name"`
}

func (h *AccountHandler) CreateNetwork(c *gin.Context) {
	var req createNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	nw, err := h.svc.CreateNetwork(c.Request.Context(), actor(c), req.Name)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, nw)
}

type updateNetworkRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

func (h *AccountHandler) UpdateNetwork(c *gin.Context) {
	var req updateNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	nw, err := h.svc.UpdateNetwork(c.Request.Context(), actor(c), c.Param("id"), service.UpdateNetworkInput{
		Name: req.Name, Active: req.Active,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, nw)
}

// ---- grants ----

func (h *AccountHandler) ListGrants(c *gin.Context) {
	g, err := h.svc.ListGrants(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *AccountHandler) GrantStore(c *gin.Context) {
	h.grant(c, h.svc.GrantStore(c.Request.Context(), actor(c), c.Param("id"), c.Param("store_id")))
}

func (h *AccountHandler) RevokeStore(c *gin.Context) {
	h.grant(c, h.svc.RevokeStore(c.Request.Context(), actor(c), c.Param("id"), c.Param("store_id")))
}

func (h *AccountHandler) GrantNetwork(c *gin.Context) {
	h.grant(c, h.svc.GrantNetwork(c.Request.Context(), actor(c), c.Param("id"), c.Param("network_id")))
}

func (h *AccountHandler) RevokeNetwork(c *gin.Context) {
	h.grant(c, h.svc.RevokeNetwork(c.Request.Context(), actor(c), c.Param("id"), c.Param("network_id")))
}

func (h *AccountHandler) grant(c *gin.Context, err error) {
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
