package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mroshb/trivia_bot/internal/metrics"
	"github.com/mroshb/trivia_bot/internal/middleware"
	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/questionbank"
	"github.com/mroshb/trivia_bot/internal/security"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	maxBodyBytes = 10 << 20

	// SecretTokenHeader carries the webhook secret set with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

type Leaderboards interface {
	Top(ctx context.Context, chatID int64, limit int) ([]models.Player, error)
	TopGlobal(ctx context.Context, limit int) ([]models.Player, error)
}

type Options struct {
	Scores    Leaderboards
	Questions questionbank.Store
	Gatherer  prometheus.Gatherer
	Limiter   *middleware.RateLimiter
	// Ping checks the database for /healthz; nil skips the check.
	Ping          func(ctx context.Context) error
	JWTSecret     string
	WebhookSecret string
	// Webhook receives Telegram updates; nil leaves the route unmounted.
	Webhook http.Handler
}

// NewRouter mounts the HTTP surface of the bot.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz(opts.Ping))
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Get("/leaderboard", globalLeaderboard(opts.Scores))
		r.Get("/chats/{chatID}/leaderboard", chatLeaderboard(opts.Scores))
		r.With(requireAdmin(opts.JWTSecret)).Post("/questions/import", importQuestions(opts.Questions))
	})

	if opts.Webhook != nil {
		r.With(requireSecret(opts.WebhookSecret)).Post("/telegram/webhook", opts.Webhook.ServeHTTP)
	}
	return r
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func globalLeaderboard(scores Leaderboards) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err)
			return
		}
		players, err := scores.TopGlobal(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, players)
	}
}

func chatLeaderboard(scores Leaderboards) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
		if err != nil {
			writeError(w, errors.New(errors.ErrCodeValidation, "chat id must be an integer"))
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err)
			return
		}
		players, err := scores.Top(r.Context(), chatID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, players)
	}
}

func importQuestions(store questionbank.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var (
			questions []models.Question
			err       error
		)
		if strings.Contains(r.Header.Get("Content-Type"), "spreadsheetml") {
			questions, err = questionbank.ParseXLSX(body)
		} else {
			questions, err = questionbank.ParseYAML(body)
		}
		if err != nil {
			writeError(w, errors.Wrap(err, errors.ErrCodeValidation, "invalid question bank"))
			return
		}

		if err := questionbank.Import(r.Context(), store, questions); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": len(questions)})
	}
}

func requireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeError(w, errors.New(errors.ErrCodeUnauthorized, "missing bearer token"))
				return
			}
			claims, err := security.ValidateJWT(token, secret)
			if err != nil || claims.Role != security.RoleAdmin {
				writeError(w, errors.New(errors.ErrCodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretTokenHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxLimit {
		return 0, errors.New(errors.ErrCodeValidation, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrCodeInternalError
	message := "internal error"

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		switch appErr.Code {
		case errors.ErrCodeValidation:
			status = http.StatusBadRequest
			if appErr.Err != nil {
				message = appErr.Err.Error()
			}
		case errors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case errors.ErrCodeNotFound:
			status = http.StatusNotFound
		case errors.ErrCodeRateLimitExceeded:
			status = http.StatusTooManyRequests
		}
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"code": code, "error": message})
}

// Serve runs srv until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
