package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/pkg/metrics"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/gin-gonic/gin"
)

const (
	ContextPlatformKey = "platform"

	// MaxBodyBytes caps what the authenticator buffers for signing.
	MaxBodyBytes = 1 << 20
)

// PlatformLookup resolves the platform named by X-Platform-Token.
type PlatformLookup interface {
	Lookup(ctx context.Context, id string) (*model.Platform, error)
}

// authFailure carries the internal reason; callers only ever see the
// generic AUTH_FAILED envelope.
type authFailure struct {
	reason string
	err    error
}

func (f *authFailure) Error() string { return f.reason + ": " + f.err.Error() }
func (f *authFailure) Unwrap() error { return f.err }

func fail(reason string, err error) *authFailure { return &authFailure{reason: reason, err: err} }

var errMissingHeader = errors.New("missing authentication header")

// AuthMiddleware verifies the HMAC signature of every request before any
// business logic runs. It must be mounted on routes carrying :platformId.
func AuthMiddleware(verifier *signer.Verifier, registry PlatformLookup) gin.HandlerFunc {
	throttled := logger.NewThrottled(5 * time.Second)
	return func(c *gin.Context) {
		platform, err := authenticate(c, verifier, registry)
		if err != nil {
			var af *authFailure
			if !errors.As(err, &af) {
				// registry unavailable: not the caller's fault
				c.Error(apperrors.Wrap(err))
				c.Abort()
				return
			}
			metrics.AuthFailures.WithLabelValues(af.reason).Inc()
			throttled.Warn("request authentication failed",
				"reason", af.reason,
				"platform_token", c.GetHeader(signer.HeaderPlatformToken),
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			c.Error(apperrors.NewAuthFailed(af))
			c.Abort()
			return
		}

		c.Set(ContextPlatformKey, platform)
		c.Next()
	}
}

func authenticate(c *gin.Context, verifier *signer.Verifier, registry PlatformLookup) (*model.Platform, error) {
	token := c.GetHeader(signer.HeaderPlatformToken)
	ts := c.GetHeader(signer.HeaderTimestamp)
	nonce := c.GetHeader(signer.HeaderNonce)
	sig := c.GetHeader(signer.HeaderSignature)
	if token == "" || ts == "" || nonce == "" || sig == "" {
		return nil, fail("missing_header", errMissingHeader)
	}
	if pathID := c.Param("platformId"); pathID != "" && pathID != token {
		return nil, fail("platform_mismatch", errors.New("token does not match path platform"))
	}

	// Cheap checks first so stale or garbled requests never reach the registry.
	if _, err := verifier.CheckTimestamp(ts); err != nil {
		if errors.Is(err, signer.ErrStaleTimestamp) {
			return nil, fail("stale_timestamp", err)
		}
		return nil, fail("malformed_timestamp", err)
	}

	platform, err := registry.Lookup(c.Request.Context(), token)
	if err != nil {
		if service.IsPlatformNotFound(err) {
			return nil, fail("unknown_platform", err)
		}
		return nil, err
	}
	if !platform.Active {
		return nil, fail("inactive_platform", errors.New("platform inactive"))
	}

	body, err := readBody(c)
	if err != nil {
		return nil, fail("unreadable_body", err)
	}

	uri := c.Request.RequestURI
	if uri == "" {
		uri = c.Request.URL.RequestURI()
	}
	if err := verifier.Verify(platform.Secret, ts, c.Request.Method, uri, body, sig); err != nil {
		switch {
		case errors.Is(err, signer.ErrMalformedSignature):
			return nil, fail("malformed_signature", err)
		case errors.Is(err, signer.ErrStaleTimestamp):
			return nil, fail("stale_timestamp", err)
		default:
			return nil, fail("bad_signature", err)
		}
	}
	return platform, nil
}

// readBody buffers the body and puts it back for binding.
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errors.New("request body too large")
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// PlatformFrom returns the authenticated platform, or nil before auth ran.
func PlatformFrom(c *gin.Context) *model.Platform {
	v, ok := c.Get(ContextPlatformKey)
	if !ok {
		return nil
	}
	p, _ := v.(*model.Platform)
	return p
}
