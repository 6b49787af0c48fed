package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ContextAuditLog = "audit_log"
	HeaderRequestID = "X-Request-ID"

	// transaction pages can be large; the audit row keeps the head only
	maxAuditResponse = 64 << 10
)

// auditCapture tees the response into a bounded buffer.
type auditCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *auditCapture) Write(b []byte) (int, error) {
	w.keep(b)
	return w.ResponseWriter.Write(b)
}

func (w *auditCapture) WriteString(s string) (int, error) {
	w.keep([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *auditCapture) keep(b []byte) {
	room := maxAuditResponse - w.buf.Len()
	if room <= 0 {
		return
	}
	if len(b) > room {
		b = b[:room]
	}
	w.buf.Write(b)
}

// AuditMiddleware records each request with the platform, user and settlement
// it touched. It sits outside ErrorHandler so the stored status and body are
// the ones the platform received.
func AuditMiddleware(auditSvc *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.NewString()
		c.Header(HeaderRequestID, reqID)

		reqBody := peekBody(c)
		entry := &model.AuditLog{
			ID:        reqID,
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			CreatedAt: start,
			Context:   make(map[string]interface{}),
		}
		c.Set(ContextAuditLog, entry)

		// the live feed hijacks the connection; there is no body to keep
		var capture *auditCapture
		if !c.IsWebsocket() {
			capture = &auditCapture{ResponseWriter: c.Writer}
			c.Writer = capture
		}

		c.Next()

		if p := PlatformFrom(c); p != nil {
			entry.PlatformID = p.ID
		}
		if user := c.Param("userId"); user != "" {
			entry.Context["user_id"] = user
		}
		if c.Writer.Header().Get(HeaderNonceReplayed) != "" {
			entry.Context["nonce_replayed"] = true
		}
		entry.RequestHeader = auditHeaders(c)
		entry.RequestBody = redactAuditBody(entry.Path, reqBody)
		entry.StatusCode = c.Writer.Status()
		if capture != nil {
			entry.ResponseBody = redactAuditBody(entry.Path, capture.buf.Bytes())
		}
		entry.LatencyMs = time.Since(start).Milliseconds()

		auditSvc.Log(entry)
	}
}

// peekBody reads the request body, one byte past the limit so the
// authenticator still sees an oversized body, and puts it back.
func peekBody(c *gin.Context) []byte {
	if c.Request.Body == nil {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	return raw
}

// AddAuditContext 给审计记录附加业务字段 (settlement_id, transaction_id ...)
func AddAuditContext(c *gin.Context, key string, value interface{}) {
	if val, exists := c.Get(ContextAuditLog); exists {
		if entry, ok := val.(*model.AuditLog); ok {
			entry.Context[key] = value
		}
	}
}

func redactAuditBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !isSensitivePath(path) {
		return string(body)
	}
	redacted, ok := redactJSON(body)
	if !ok {
		return "[redacted]"
	}
	return string(redacted)
}

func isSensitivePath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/v1/admin/platforms"):
		return true
	case strings.HasPrefix(path, "/v1/platforms/"):
		return true
	default:
		return false
	}
}

// auditHeaders keeps the authentication headers that identify a request
// without letting the signature itself reach storage.
func auditHeaders(c *gin.Context) string {
	h := map[string]string{}
	for _, name := range []string{signer.HeaderPlatformToken, signer.HeaderTimestamp, signer.HeaderNonce} {
		if v := c.GetHeader(name); v != "" {
			h[name] = v
		}
	}
	if c.GetHeader(signer.HeaderSignature) != "" {
		h[signer.HeaderSignature] = "***"
	}
	if len(h) == 0 {
		return ""
	}
	out, _ := json.Marshal(h)
	return string(out)
}

func redactJSON(body []byte) ([]byte, bool) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	redactValue(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func redactValue(v *interface{}) {
	switch raw := (*v).(type) {
	case map[string]interface{}:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []interface{}:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "secret",
		"plainsecret",
		"signature",
		"sig",
		"private_key",
		"admin_key",
		"admin_secret_key":
		return true
	default:
		return false
	}
}
