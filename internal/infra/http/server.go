package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"qrtrust/internal/config"
	"qrtrust/internal/domain"
	"qrtrust/internal/infra/auth/rbac"
	"qrtrust/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log logrus.FieldLogger

	issueUC      *usecase.IssueProduct
	verifyUC     *usecase.VerifyAttestation
	regenerateUC *usecase.RegenerateToken
	historyUC    *usecase.ScanHistory

	issuerKeyPEM []byte
	health       func(ctx context.Context) error

	authInitErr   error
	jwtSecret     []byte
	authenticator Authenticator
	authz         *rbac.Authorizer

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

// Authenticator turns a bearer token into a principal. It is required for
// auth mode "oidc"; mode "jwt" verifies HS256 tokens itself.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (domain.Principal, error)
}

type ServerDeps struct {
	Issue      *usecase.IssueProduct
	Verify     *usecase.VerifyAttestation
	Regenerate *usecase.RegenerateToken
	History    *usecase.ScanHistory
	// IssuerKeyPEM is the PKIX public key served to offline verifiers.
	IssuerKeyPEM []byte
	// Health reports backing-store reachability for /healthz. Optional.
	Health        func(ctx context.Context) error
	RateLimiter   domain.RateLimiter
	Authenticator Authenticator
	Log           logrus.FieldLogger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:          cfg,
		r:            r,
		log:          deps.Log,
		issueUC:      deps.Issue,
		verifyUC:     deps.Verify,
		regenerateUC: deps.Regenerate,
		historyUC:    deps.History,
		issuerKeyPEM: deps.IssuerKeyPEM,
		health:       deps.Health,
		authz:        rbac.NewAuthorizer(),
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	r.Use(requestIDMiddleware(), accessLogMiddleware(s.log))
	s.initRateLimit(deps.RateLimiter)
	s.initAuth(deps.Authenticator)
	s.routes()
	return s
}

func (s *Server) initAuth(authenticator Authenticator) {
	switch s.cfg.Auth.Mode {
	case "none":
	case "oidc":
		if authenticator == nil {
			s.authInitErr = errors.New("oidc auth requires an authenticator")
			return
		}
		s.authenticator = authenticator
	case "jwt":
		if len(s.cfg.Auth.JWTSecret) < 32 {
			s.authInitErr = errors.New("auth.jwt_secret must be at least 32 bytes")
			return
		}
		s.jwtSecret = []byte(s.cfg.Auth.JWTSecret)
	case "":
		s.authInitErr = errors.New("auth.mode is required")
	default:
		s.authInitErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.HTTP.RateLimitRequests
	s.rateLimitWindow = s.cfg.HTTP.RateLimitWindow
	if s.rateLimitWindow <= 0 {
		s.rateLimitWindow = time.Minute
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	api := s.r.Group("/api")
	{
		api.POST("/products", s.handleIssue)
		api.GET("/products/:product_id/token", s.handleRegenerateToken)
		api.POST("/verify", s.handleVerify)
		api.POST("/verify/token", s.handleVerifyToken)
		api.GET("/keys/issuer", s.handleIssuerKey)
		api.GET("/scans", s.handleScanHistory)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Err reports a configuration problem detected at construction.
func (s *Server) Err() error {
	return s.authInitErr
}
