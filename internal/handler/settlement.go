package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GoPolymarket/settlegate/internal/middleware"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
)

// SettlementHandler serves the signed platform API. Routes are mounted under
// /v1/platforms/:platformId behind the authenticator and the rate limiter.
type SettlementHandler struct {
	ledger *service.Ledger
}

func NewSettlementHandler(ledger *service.Ledger) *SettlementHandler {
	return &SettlementHandler{ledger: ledger}
}

func (h *SettlementHandler) GetBalance(c *gin.Context) {
	platform := middleware.PlatformFrom(c)
	bal, err := h.ledger.GetBalance(c.Request.Context(), platform.ID, c.Param("userId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *SettlementHandler) Deposit(c *gin.Context) {
	platform := middleware.PlatformFrom(c)
	var req model.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	middleware.AddAuditContext(c, "settlement_id", req.PlatformSettlementID)

	tx, err := h.ledger.RecordDeposit(c.Request.Context(), platform.ID, req.PlatformUserID, service.DepositInput{
		CreditsAmount: req.CreditsAmount,
		TokenAmount:   req.TokenAmount,
		SettlementID:  req.PlatformSettlementID,
		Metadata:      req.Metadata,
		Source:        model.SourceAPI,
	})
	h.respond(c, tx, err)
}

func (h *SettlementHandler) Withdraw(c *gin.Context) {
	platform := middleware.PlatformFrom(c)
	var req model.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	middleware.AddAuditContext(c, "settlement_id", req.PlatformSettlementID)

	tx, err := h.ledger.RecordWithdrawal(c.Request.Context(), platform.ID, req.PlatformUserID, service.WithdrawalInput{
		CreditsAmount: *req.CreditsAmount,
		Destination:   req.Destination,
		SettlementID:  req.PlatformSettlementID,
	})
	h.respond(c, tx, err)
}

// respond returns the transaction as-is; a replayed settlement id yields the
// original record with the same status code.
func (h *SettlementHandler) respond(c *gin.Context, tx *model.Transaction, err error) {
	if tx != nil {
		middleware.AddAuditContext(c, "transaction_id", tx.ID)
		middleware.AddAuditContext(c, "transaction_status", string(tx.Status))
	}
	if err != nil {
		if errors.Is(err, service.ErrInsufficientBalance) && tx != nil {
			middleware.AddAuditContext(c, "failure_reason", tx.FailureReason)
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *SettlementHandler) ListTransactions(c *gin.Context) {
	platform := middleware.PlatformFrom(c)
	limit, err := intQuery(c, "limit", service.DefaultListLimit)
	if err != nil {
		c.Error(err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.Error(err)
		return
	}

	txs, next, err := h.ledger.ListTransactions(c.Request.Context(), platform.ID, c.Param("userId"), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	if txs == nil {
		txs = []*model.Transaction{}
	}
	c.JSON(http.StatusOK, model.TransactionList{Transactions: txs, NextOffset: next})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewInvalidRequest(name + " must be a non-negative integer")
	}
	return v, nil
}
