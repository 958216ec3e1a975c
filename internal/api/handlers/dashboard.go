// dashboard.go — ролевые dashboard endpoints.
// Авторизация (точное совпадение роли) выполняется middleware на уровне
// роутера; обработчики формируют только содержимое.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/edugate/access-gateway/internal/api/errors"
	"github.com/bigkaa/edugate/access-gateway/internal/api/middleware"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// DashboardHandler — обработчик dashboard endpoints.
type DashboardHandler struct {
	svc    AccountsService
	logger *slog.Logger
}

// NewDashboardHandler создаёт обработчик dashboard.
func NewDashboardHandler(svc AccountsService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "dashboard_handler")),
	}
}

// dashboardResponse — общий ответ dashboard endpoint.
type dashboardResponse struct {
	Dashboard string `json:"dashboard"`
	SubjectID string `json:"subject_id"`
	Email     string `json:"email,omitempty"`
	// TotalAccounts заполняется только для admin dashboard.
	TotalAccounts *int `json:"total_accounts,omitempty"`
}

// Admin — GET /api/v1/dashboard/admin.
// Помимо identity возвращает количество учётных записей.
func (h *DashboardHandler) Admin(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Unauthorized(w)
		return
	}

	resp := dashboardResponse{
		Dashboard: role.Admin.String(),
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
	}

	// Статистика не критична для ответа: при ошибке просто не включаем
	if _, total, err := h.svc.ListAccounts(r.Context(), 1, 0); err == nil {
		resp.TotalAccounts = &total
	} else {
		h.logger.Warn("Не удалось получить статистику аккаунтов",
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Teacher — GET /api/v1/dashboard/teacher.
func (h *DashboardHandler) Teacher(w http.ResponseWriter, r *http.Request) {
	h.roleDashboard(w, r, role.Teacher)
}

// Student — GET /api/v1/dashboard/student.
func (h *DashboardHandler) Student(w http.ResponseWriter, r *http.Request) {
	h.roleDashboard(w, r, role.Student)
}

// roleDashboard формирует ответ dashboard для указанной роли.
func (h *DashboardHandler) roleDashboard(w http.ResponseWriter, r *http.Request, dash role.Role) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Unauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Dashboard: dash.String(),
		SubjectID: identity.SubjectID,
		Email:     identity.Email,
	})
}
