package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/crypto-gateway/internal/ledger"
	"github.com/example/crypto-gateway/internal/pipeline"
	"github.com/example/crypto-gateway/internal/security"
	"github.com/example/crypto-gateway/pkg/audit"
)

// UserIDHeader carries the web channel's authenticated identity. Login
// mechanics live outside this service; whatever fronts it injects the header.
const UserIDHeader = "X-User-ID"

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Processor is the pipeline surface the web channel needs.
type Processor interface {
	ProcessJSON(ctx context.Context, raw []byte, fallbackUserID string) pipeline.Response
}

type Dependencies struct {
	Logger    *slog.Logger
	Processor Processor

	History interface {
		ListByUser(ctx context.Context, userID string, limit int) ([]*ledger.Record, error)
	}

	Metrics      *pipeline.Metrics
	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Processor == nil {
		return nil, errors.New("api: Processor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKey))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/metrics", handleMetrics(deps))

	r.Route("/api", func(r chi.Router) {
		r.Post("/process_transaction", handleProcessTransaction(deps))
		r.Get("/transactions", handleListTransactions(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

// rateLimitKey buckets by the submitting identity when known, falling back
// to the peer address.
func rateLimitKey(r *http.Request) string {
	if user := r.Header.Get(UserIDHeader); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
