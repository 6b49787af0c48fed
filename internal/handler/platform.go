package handler

import (
	"net/http"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
)

// PlatformHandler is the operator API for platforms. Secrets are masked in
// every response except create and rotate.
type PlatformHandler struct {
	svc *service.PlatformService
}

func NewPlatformHandler(svc *service.PlatformService) *PlatformHandler {
	return &PlatformHandler{svc: svc}
}

func (h *PlatformHandler) List(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		c.Error(err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.Error(err)
		return
	}

	platforms, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	out := make([]*model.PlatformView, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, model.NewPlatformView(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *PlatformHandler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, model.NewPlatformView(p))
}

func (h *PlatformHandler) Create(c *gin.Context) {
	var req service.PlatformCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	p, secret, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, model.PlatformSecretView{PlatformView: model.NewPlatformView(p), PlainSecret: secret})
}

func (h *PlatformHandler) Update(c *gin.Context) {
	var req service.PlatformUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	p, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, model.NewPlatformView(p))
}

// RotateSecret invalidates the old secret immediately; there is no grace period.
func (h *PlatformHandler) RotateSecret(c *gin.Context) {
	p, secret, err := h.svc.RotateSecret(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, model.PlatformSecretView{PlatformView: model.NewPlatformView(p), PlainSecret: secret})
}

func (h *PlatformHandler) Activate(c *gin.Context)   { h.setActive(c, true) }
func (h *PlatformHandler) Deactivate(c *gin.Context) { h.setActive(c, false) }

func (h *PlatformHandler) setActive(c *gin.Context, active bool) {
	p, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, model.NewPlatformView(p))
}
