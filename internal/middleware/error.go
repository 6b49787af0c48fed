package middleware

import (
	"errors"

	"github.com/GoPolymarket/settlegate/internal/conversion"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/repository"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		RenderError(c)
	}
}

// RenderError writes the failure envelope for the last attached error unless
// a response was already written.
func RenderError(c *gin.Context) {
	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}

	appErr := ToAppError(c.Errors.Last().Err)

	logFields := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"code", appErr.Type,
		"client_ip", c.ClientIP(),
	}
	if p := PlatformFrom(c); p != nil {
		logFields = append(logFields, "platform_id", p.ID)
	}

	if appErr.HTTPStatus >= 500 {
		logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
	} else if appErr.Type != apperrors.ErrAuthFailed {
		// auth failures are logged (throttled) by the authenticator
		logger.Warn(appErr.Message, logFields...)
	}

	c.JSON(appErr.HTTPStatus, appErr)
}

// ToAppError maps domain errors onto the API taxonomy.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, conversion.ErrHalted):
		return apperrors.New(apperrors.ErrConversionHalted, "settlement halted: conversion configuration invalid", err)
	case errors.Is(err, service.ErrInsufficientBalance):
		return apperrors.NewInsufficientBalance("insufficient balance")
	case errors.Is(err, service.ErrValidation):
		return apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
	case errors.Is(err, service.ErrRateBudgetDisabled):
		return apperrors.NewPlatformForbidden("platform is not enabled for settlement traffic")
	case service.IsPlatformNotFound(err):
		return apperrors.NewNotFound("platform not found")
	case errors.Is(err, repository.ErrPlatformExists):
		return apperrors.New(apperrors.ErrConflict, "platform already exists", err)
	}
	return apperrors.New(apperrors.ErrInternal, "internal error", err)
}
