// Command server runs the cross-border transfer shield HTTP API.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/meridiancompliance/shield/pkg/api"
	"github.com/meridiancompliance/shield/pkg/auth"
	"github.com/meridiancompliance/shield/pkg/config"
	"github.com/meridiancompliance/shield/pkg/decision"
	"github.com/meridiancompliance/shield/pkg/erasure"
	"github.com/meridiancompliance/shield/pkg/ledger"
	"github.com/meridiancompliance/shield/pkg/ratelimit"
	"github.com/meridiancompliance/shield/pkg/review"
	"github.com/meridiancompliance/shield/pkg/sccregistry"
	"github.com/meridiancompliance/shield/pkg/signing"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("[shield] connect to database: %v", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		log.Printf("[shield] database ping failed: %v", err)
		return 1
	}
	log.Println("[shield] postgres: connected")

	masterKey := erasure.NormalizeMasterKey(cfg.MasterKeyRaw)

	sealKeyring, err := signing.NewDerivedKeyring(masterKey, "evidence-seal")
	if err != nil {
		log.Printf("[shield] derive seal signing key: %v", err)
		return 1
	}

	lgr := ledger.NewPostgresLedger(db, cfg.NexusSealSalt, sealKeyring)
	if err := lgr.Init(ctx); err != nil {
		log.Printf("[shield] init ledger schema: %v", err)
		return 1
	}

	reviewWorkflow := review.NewWorkflow(db, lgr)
	if err := reviewWorkflow.Init(ctx); err != nil {
		log.Printf("[shield] init review schema: %v", err)
		return 1
	}

	sccRegistry := sccregistry.NewRegistry(db, reviewWorkflow)
	if err := sccRegistry.Init(ctx); err != nil {
		log.Printf("[shield] init scc registry schema: %v", err)
		return 1
	}

	erasureEngine := erasure.NewEngine(db, lgr, masterKey, erasure.DefaultInventoryConfig())
	if err := erasureEngine.Init(ctx); err != nil {
		log.Printf("[shield] init erasure schema: %v", err)
		return 1
	}

	engine := decision.NewEngine(lgr, sccRegistry, reviewWorkflow)
	service := api.NewService(lgr, engine, reviewWorkflow, erasureEngine, sccRegistry)

	mux := http.NewServeMux()
	mux.HandleFunc("/shield/evaluate", service.HandleEvaluate)
	mux.HandleFunc("/shield/ingest-logs", service.HandleIngestLogs)
	mux.HandleFunc("/evidence/events", evidenceEventsRouter(service))
	mux.HandleFunc("/evidence/verify-integrity", service.HandleVerifyIntegrity)
	mux.HandleFunc("/review-queue", service.HandleReviewQueue)
	mux.HandleFunc("/human_oversight/pending", service.HandlePendingOversight)
	mux.HandleFunc("/human_oversight/decided-evidence-ids", service.HandleDecidedEvidenceIDs)
	mux.HandleFunc("/action/", actionRouter(service))
	mux.HandleFunc("/scc-registries", service.HandleSCCRegistries)
	mux.HandleFunc("/scc-registries/", service.HandleRevokeSCC)
	mux.HandleFunc("/gdpr-rights/erasure/execute", service.HandleErasure)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter = ratelimit.NewRedisLimiter(cfg.RedisAddr, 10, 20)
		log.Println("[shield] rate limit: redis", cfg.RedisAddr)
	} else {
		ml := ratelimit.NewMemoryLimiter(10, 20)
		defer ml.Close()
		limiter = ml
		log.Println("[shield] rate limit: in-memory")
	}

	jwtValidator := auth.NewJWTValidator(os.Getenv("JWT_SECRET"))

	var handler http.Handler = mux
	handler = auth.NewMiddleware(jwtValidator)(handler)
	handler = api.RateLimitMiddleware(limiter)(handler)
	handler = auth.CORSMiddleware(cfg.AllowedOrigins)(handler)
	handler = accessLog(handler)
	handler = auth.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrc := make(chan error, 1)
	go func() {
		log.Printf("[shield] listening on %s", srv.Addr)
		serveErrc <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrc:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[shield] server error: %v", err)
			return 1
		}
	case <-sigChan:
		log.Println("[shield] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[shield] graceful shutdown failed: %v", err)
			return 1
		}
	}

	return 0
}

// accessLog emits one structured line per request, carrying the
// correlation ID minted (or echoed) by RequestIDMiddleware so that
// operator logs line up with client-side traces.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", auth.GetRequestID(r.Context()),
		)
		next.ServeHTTP(w, r)
	})
}

func evidenceEventsRouter(s *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.HandleListEvidence(w, r)
			return
		}
		s.HandleAppendEvidence(w, r)
	}
}

func actionRouter(s *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case len(r.URL.Path) > len("/approve") && r.URL.Path[len(r.URL.Path)-len("/approve"):] == "/approve":
			s.HandleApprove(w, r)
		case len(r.URL.Path) > len("/reject") && r.URL.Path[len(r.URL.Path)-len("/reject"):] == "/reject":
			s.HandleReject(w, r)
		default:
			api.WriteNotFound(w, "Unknown action route")
		}
	}
}
