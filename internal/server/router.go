package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/config"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/gate"
	gh "github.com/codehound/reviewhub/internal/github"
	"github.com/codehound/reviewhub/internal/hub"
	"github.com/codehound/reviewhub/internal/server/handler"
	"github.com/codehound/reviewhub/internal/storage"
)

// RouterDeps bundles everything the routes need. Keeping the dependencies in
// one struct keeps NewRouter's signature stable as endpoints accrete.
type RouterDeps struct {
	Config     *config.Config
	Store      storage.Store
	Gate       *gate.Gate
	Dispatcher core.JobDispatcher
	Engine     core.ReviewEngine
	Hub        *hub.Hub
	Tokens     *auth.TokenManager
	Logger     *slog.Logger
}

// NewRouter creates and configures the HTTP router with middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	githubFor := func(ctx context.Context, token string) gh.Client {
		return gh.NewClient(ctx, token, deps.Logger)
	}

	reviewHandler := handler.NewReviewHandler(deps.Store, deps.Gate, deps.Dispatcher, deps.Engine, githubFor, deps.Logger)
	commitHandler := handler.NewCommitHandler(deps.Store, githubFor, deps.Logger)
	pullHandler := handler.NewPullRequestHandler(deps.Store, githubFor, deps.Logger)
	webhookHandler := handler.NewWebhookHandler(deps.Config, deps.Store, deps.Gate, deps.Dispatcher, deps.Logger)
	wsHandler := handler.NewWSHandler(deps.Hub, deps.Tokens, deps.Logger)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/webhook/github", webhookHandler.Handle)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(deps.Tokens))

			r.Post("/reviews/trigger", reviewHandler.Trigger)
			r.Post("/reviews/editor", reviewHandler.EditorReview)
			r.Get("/reviews/history", reviewHandler.History)
			r.Get("/reviews/{reviewID}", reviewHandler.Get)
			r.Post("/reviews/{reviewID}/feedback", reviewHandler.Feedback)
			r.Post("/reviews/{reviewID}/re-review", reviewHandler.ReReview)

			r.Get("/commits", commitHandler.List)
			r.Get("/pulls", pullHandler.List)
			r.Get("/pulls/{prNumber}", pullHandler.Get)
		})
	})

	// Websocket routes live outside the timeout middleware; connections are
	// long-lived and authenticate at handshake time.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/reviews/{reviewID}", wsHandler.Review)
		r.Get("/user/{userID}", wsHandler.User)
	})

	return r
}
