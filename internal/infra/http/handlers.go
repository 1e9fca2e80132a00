package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/auth/rbac"
	"qrtrust/internal/infra/token"
	"qrtrust/internal/usecase"
)

const (
	maxJSONBody       = 16 << 10
	retryAfterSeconds = "5"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type issueRequest struct {
	ProductID   string            `json:"productId"`
	Temperature *float64          `json:"temperature"`
	Location    string            `json:"location"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type issueResponse struct {
	ProductID   string `json:"productId"`
	TxHash      string `json:"txHash"`
	Signature   string `json:"signature"`
	Fingerprint string `json:"fingerprint"`
	Token       string `json:"token"`
	IssuedAt    string `json:"issuedAt"`
}

type verifyRequest struct {
	TxHash    string `json:"txHash"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Authentic bool                 `json:"authentic"`
	Product   domain.ProductRecord `json:"product"`
}

type tokenResponse struct {
	ProductID string `json:"productId"`
	TxHash    string `json:"txHash"`
	Token     string `json:"token"`
	IssuedAt  string `json:"issuedAt,omitempty"`
}

type scanEventResponse struct {
	ID              string `json:"id"`
	TxHash          string `json:"txHash"`
	ProductID       string `json:"productId,omitempty"`
	Outcome         string `json:"outcome"`
	ErrorCode       string `json:"errorCode,omitempty"`
	SignatureDigest string `json:"signatureDigest"`
	RequestID       string `json:"requestId,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			s.log.WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger": s.cfg.Ledger.Provider})
}

func (s *Server) handleIssue(c *gin.Context) {
	if !s.requireIssuer(c, rbac.PermissionIssue) {
		return
	}
	if s.issueUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req issueRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Temperature == nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RECORD", "temperature is required")
		return
	}
	resp, err := s.issueUC.Execute(c.Request.Context(), usecase.IssueProductRequest{
		ProductID:   req.ProductID,
		Temperature: *req.Temperature,
		Location:    req.Location,
		Attributes:  req.Attributes,
	})
	if err != nil {
		s.writeUsecaseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issueResponse{
		ProductID:   resp.ProductID,
		TxHash:      resp.LedgerReference.String(),
		Signature:   resp.Signature,
		Fingerprint: resp.Fingerprint.String(),
		Token:       string(resp.Token),
		IssuedAt:    resp.IssuedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	if !s.enforceRateLimit(c, routeVerify) {
		return
	}
	if s.verifyUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req verifyRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	record, err := s.verifyUC.ExecuteFields(c.Request.Context(), req.TxHash, req.Signature)
	if err != nil {
		s.writeUsecaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Authentic: true, Product: *record})
}

// handleVerifyToken accepts the raw scanned QR payload as the request body.
func (s *Server) handleVerifyToken(c *gin.Context) {
	if !s.enforceRateLimit(c, routeVerifyToken) {
		return
	}
	if s.verifyUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, token.MaxTokenSize+1))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "MALFORMED_TOKEN", "unreadable body")
		return
	}
	record, err := s.verifyUC.ExecuteToken(c.Request.Context(), raw)
	if err != nil {
		s.writeUsecaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Authentic: true, Product: *record})
}

func (s *Server) handleRegenerateToken(c *gin.Context) {
	if !s.requireIssuer(c, rbac.PermissionReadToken) {
		return
	}
	if s.regenerateUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	resp, err := s.regenerateUC.Execute(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		s.writeUsecaseError(c, err)
		return
	}
	out := tokenResponse{
		ProductID: resp.ProductID,
		TxHash:    resp.LedgerReference.String(),
		Token:     string(resp.Token),
	}
	if !resp.IssuedAt.IsZero() {
		out.IssuedAt = resp.IssuedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleIssuerKey(c *gin.Context) {
	if len(s.issuerKeyPEM) == 0 {
		writeError(c, domain.ErrNotFound)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(http.StatusOK, "application/x-pem-file", s.issuerKeyPEM)
}

func (s *Server) handleScanHistory(c *gin.Context) {
	if !s.requireIssuer(c, rbac.PermissionReadScans) {
		return
	}
	if s.historyUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.historyUC.Execute(c.Request.Context(), domain.LedgerReference(c.Query("txHash")), limit)
	if err != nil {
		s.writeUsecaseError(c, err)
		return
	}
	out := make([]scanEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, scanEventResponse{
			ID:              event.ID,
			TxHash:          event.LedgerReference.String(),
			ProductID:       event.ProductID,
			Outcome:         string(event.Outcome),
			ErrorCode:       event.ErrorCode,
			SignatureDigest: event.SignatureDigest,
			RequestID:       event.RequestID,
			CreatedAt:       event.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// writeUsecaseError logs unexpected failures before mapping them; the client
// only ever sees the stable code for those.
func (s *Server) writeUsecaseError(c *gin.Context, err error) {
	if domain.ErrorCode(err) == "INTERNAL" {
		s.log.WithError(err).WithField("request_id", c.GetString(requestIDContextKey)).Error("request failed")
	}
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		status, code = http.StatusBadRequest, "INVALID_RECORD"
	case errors.Is(err, domain.ErrDuplicateProduct):
		status, code = http.StatusConflict, "DUPLICATE_PRODUCT"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		status, code = http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"
	case errors.Is(err, domain.ErrLedgerTimeout):
		status, code = http.StatusGatewayTimeout, "LEDGER_TIMEOUT"
	case errors.Is(err, domain.ErrLedgerRejected):
		status, code = http.StatusUnprocessableEntity, "LEDGER_REJECTED"
	case errors.Is(err, domain.ErrLedgerPending):
		status, code = http.StatusConflict, "LEDGER_PENDING"
	case errors.Is(err, domain.ErrSigningUnavailable):
		status, code = http.StatusServiceUnavailable, "SIGNING_UNAVAILABLE"
	case errors.Is(err, domain.ErrInvalidSignature):
		status, code = http.StatusBadRequest, "INVALID_SIGNATURE"
	case errors.Is(err, domain.ErrUnknownReference):
		status, code = http.StatusNotFound, "UNKNOWN_REFERENCE"
	case errors.Is(err, domain.ErrLedgerMismatch):
		status, code = http.StatusConflict, "LEDGER_MISMATCH"
	case errors.Is(err, domain.ErrMalformedToken):
		status, code = http.StatusBadRequest, "MALFORMED_TOKEN"
	case errors.Is(err, domain.ErrPolicyDenied):
		status, code = http.StatusForbidden, "POLICY_DENIED"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	if domain.Retryable(err) {
		c.Header("Retry-After", retryAfterSeconds)
	}
	message := "internal error"
	if code != "INTERNAL" {
		message = err.Error()
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
