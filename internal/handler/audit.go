package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
)

const defaultAuditLimit = 100

type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List serves GET /v1/admin/audit?platformId=&limit=&from=&to=. from and to
// take RFC3339 or unix seconds; platformId empty means every platform.
func (h *AuditHandler) List(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultAuditLimit)
	if err != nil {
		c.Error(err)
		return
	}
	if limit == 0 || limit > service.MaxListLimit {
		limit = service.MaxListLimit
	}
	from, err := timeQuery(c, "from")
	if err != nil {
		c.Error(err)
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		c.Error(err)
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		c.Error(apperrors.NewInvalidRequest("to must not be before from"))
		return
	}

	records, err := h.svc.List(c.Request.Context(), c.Query("platformId"), limit, from, to)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		t := time.Unix(unix, 0).UTC()
		return &t, nil
	}
	return nil, apperrors.NewInvalidRequest(name + " must be RFC3339 or unix seconds")
}
