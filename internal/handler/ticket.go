package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/access"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"go.uber.org/zap"
)

type TicketHandler struct {
	svc *service.TicketService
	log *zap.Logger
}

func NewTicketHandler(svc *service.TicketService, log *zap.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, log: log}
}

type createTicketRequest struct {
	StoreID       string  `json:"store_id" binding:"required"`
	RequesterName *string `json:"requester_name"`
	Location      *string `json:"location"`
	Problem       string  `json:"problem"`
	Type          string  `json:"type"`
	Priority      string  `json:"priority"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.svc.Create(c.Request.Context(), actor(c), service.CreateTicketInput{
		StoreID:       req.StoreID,
		RequesterName: req.RequesterName,
		Location:      req.Location,
		Problem:       req.Problem,
		Type:          req.Type,
		Priority:      req.Priority,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) History(c *gin.Context) {
	items, err := h.svc.History(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *TicketHandler) List(c *gin.Context) {
	scope, err := access.ParseTechScope(c.Query("scope"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "invalid limit")
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		badRequest(c, "invalid offset")
		return
	}

	page, err := h.svc.List(c.Request.Context(), actor(c), service.ListTicketsFilter{
		Status:    c.Query("status"),
		StoreID:   c.Query("store_id"),
		NetworkID: c.Query("network_id"),
		Scope:     scope,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type editTicketRequest struct {
	RequesterName *string `json:"requester_name"`
	Location      *string `json:"location"`
	Problem       *string `json:"problem"`
	Type          *string `json:"type"`
	Priority      *string `json:"priority"`
}

func (h *TicketHandler) Edit(c *gin.Context) {
	var req editTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.svc.Edit(c.Request.Context(), actor(c), c.Param("id"), service.EditTicketInput{
		RequesterName: req.RequesterName,
		Location:      req.Location,
		Problem:       req.Problem,
		Type:          req.Type,
		Priority:      req.Priority,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type assignRequest struct {
	TechID string `json:"tech_id"`
}

// Assign accepts an empty body for a technician's self-claim.
func (h *TicketHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.svc.Assign(c.Request.Context(), actor(c), c.Param("id"), req.TechID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type noteRequest struct {
	Note *string `json:"note"`
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *TicketHandler) optionalNote(c *gin.Context) (*string, bool) {
	var req noteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "invalid body")
		return nil, false
	}
	return req.Note, true
}

func (h *TicketHandler) Start(c *gin.Context) {
	note, ok := h.optionalNote(c)
	if !ok {
		return
	}
	t, err := h.svc.Start(c.Request.Context(), actor(c), c.Param("id"), note)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Pend(c *gin.Context) {
	note, ok := h.optionalNote(c)
	if !ok {
		return
	}
	t, err := h.svc.Pend(c.Request.Context(), actor(c), c.Param("id"), note)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type commentRequest struct {
	Note string `json:"note"`
}

func (h *TicketHandler) Comment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	u, err := h.svc.Comment(c.Request.Context(), actor(c), c.Param("id"), req.Note)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type closeRequest struct {
	ResolutionText string `json:"resolution_text"`
}

func (h *TicketHandler) Close(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.svc.Close(c.Request.Context(), actor(c), c.Param("id"), req.ResolutionText)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
