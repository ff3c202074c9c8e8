package api

import (
	"context"
	"fmt"
	"net/http"
	"newsq/internal/ports"
	"newsq/internal/usecase"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Lifecycle *usecase.Lifecycle
	Enqueuer  usecase.Enqueuer
	Sources   ports.SourceRepository
	Articles  ports.ArticleRepository
	// Database is pinged by the health check. Nil reports "disabled".
	Database Pinger

	APIKey        string
	RateLimit     int
	WebhookSecret string
}

type Server struct {
	router *chi.Mux
	deps   Deps
	// OnShutdown runs after the HTTP server stopped.
	OnShutdown func()
}

func NewServer(d Deps) *Server {
	s := &Server{router: chi.NewRouter(), deps: d}
	r := s.router

	r.Get("/health", s.health)
	r.Post("/webhook/store-result", s.storeResult)

	r.Group(func(r chi.Router) {
		r.Use(apiKeyHandler(d.APIKey))

		r.With(rateLimitHandler(d.RateLimit)).Post("/submit-job", s.submitJob)
		r.Get("/jobs/{jobID}", s.getJob)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", s.queueStatus)
			r.Get("/main/items", s.listMain)
			r.Get("/dlq/items", s.listDLQ)
			r.Post("/dlq/requeue/{jobID}", s.requeue)
			r.Post("/dlq/requeue-all", s.requeueAll)
		})

		if d.Sources != nil {
			r.Route("/sources", func(r chi.Router) {
				r.Post("/", s.createSource)
				r.Get("/", s.listSources)
				r.Get("/{sourceID}", s.getSource)
				r.Patch("/{sourceID}", s.updateSource)
				r.Delete("/{sourceID}", s.deleteSource)
				r.Post("/{sourceID}/toggle", s.toggleSource)
			})
		}
		if d.Articles != nil {
			r.Route("/articles", func(r chi.Router) {
				r.Get("/", s.listArticles)
				r.Get("/{articleID}", s.getArticle)
				r.Patch("/{articleID}/status", s.setArticleStatus)
			})
		}
	})

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/health" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run method of the Server struct runs the HTTP server on the specified port
// until SIGINT or SIGTERM, then drains in-flight requests.
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	<-done
	if s.OnShutdown != nil {
		s.OnShutdown()
	}
	log.Info().Msg("Server stopped")
	return nil
}
