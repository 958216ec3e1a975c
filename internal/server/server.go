// Пакет server — HTTP-сервер Access Gateway с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на внешнем балансировщике.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/edugate/access-gateway/internal/api/handlers"
	"github.com/bigkaa/edugate/access-gateway/internal/api/middleware"
	"github.com/bigkaa/edugate/access-gateway/internal/config"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// Handlers — набор обработчиков, монтируемых на роутер.
type Handlers struct {
	Health    *handlers.HealthHandler
	Accounts  *handlers.AccountsHandler
	Profile   *handlers.ProfileHandler
	Dashboard *handlers.DashboardHandler
}

// Server — HTTP-сервер Access Gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth может быть nil (тестирование без аутентификации),
// authz — nil только вместе с jwtAuth.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth, authz *middleware.Authorizer) *Server {
	router := NewRouter(logger, h, jwtAuth, authz)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер Access Gateway.
// Публичные маршруты: /health/live, /health/ready, /metrics.
// Остальные проходят JWT-аутентификацию; административные и dashboard
// маршруты дополнительно — авторизацию по роли из хранилища.
func NewRouter(logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth, authz *middleware.Authorizer) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics опрашиваются Kubernetes и Prometheus напрямую.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics"))
	}

	// Публичные endpoints
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	// Аутентифицированные endpoints
	router.Route("/api/v1", func(r chi.Router) {
		// Профиль — достаточно валидного токена, роль не проверяется
		r.Get("/profile", h.Profile.Profile)

		// Dashboard — точное совпадение роли, иерархии нет
		r.Group(func(r chi.Router) {
			r.With(requireRole(authz, role.Admin)).Get("/dashboard/admin", h.Dashboard.Admin)
			r.With(requireRole(authz, role.Teacher)).Get("/dashboard/teacher", h.Dashboard.Teacher)
			r.With(requireRole(authz, role.Student)).Get("/dashboard/student", h.Dashboard.Student)
		})

		// Административные операции — только admin
		r.Group(func(r chi.Router) {
			r.Use(requireRole(authz, role.Admin))
			r.Post("/accounts", h.Accounts.CreateAccount)
			r.Get("/accounts", h.Accounts.ListAccounts)
			r.Get("/accounts/{subjectID}", h.Accounts.GetAccount)
			r.Put("/accounts/{subjectID}/role", h.Accounts.SetRole)
			r.Delete("/accounts/{subjectID}", h.Accounts.DeleteAccount)
		})
	})

	return router
}

// requireRole возвращает авторизационный middleware или no-op при nil
// Authorizer (тестирование без авторизации).
func requireRole(authz *middleware.Authorizer, roles ...role.Role) func(http.Handler) http.Handler {
	if authz == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return authz.RequireRole(roles...)
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
