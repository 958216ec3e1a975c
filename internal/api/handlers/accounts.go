// accounts.go — административные операции над учётными записями.
// Все маршруты защищены RequireRole(admin) на уровне роутера.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/edugate/access-gateway/internal/api/errors"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/service"
)

// AccountsService — операции сервисного слоя, нужные обработчикам.
// Реализуется service.AccountService.
type AccountsService interface {
	CreateAccount(ctx context.Context, in service.CreateAccountInput) (*model.Account, error)
	ChangeRole(ctx context.Context, subjectID, newRole string) (*model.Account, error)
	GetAccount(ctx context.Context, subjectID string) (*model.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*model.Account, int, error)
	DeleteAccount(ctx context.Context, subjectID string) error
}

// AccountsHandler — обработчик административных операций.
type AccountsHandler struct {
	svc    AccountsService
	logger *slog.Logger
}

// NewAccountsHandler создаёт обработчик учётных записей.
func NewAccountsHandler(svc AccountsService, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "accounts_handler")),
	}
}

// createAccountRequest — тело POST /api/v1/accounts.
type createAccountRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role,omitempty"`
}

// setRoleRequest — тело PUT /api/v1/accounts/{subjectID}/role.
type setRoleRequest struct {
	Role string `json:"role"`
}

// listAccountsResponse — ответ GET /api/v1/accounts.
type listAccountsResponse struct {
	Accounts []accountResponse `json:"accounts"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// CreateAccount — POST /api/v1/accounts.
// 201 — создан; 400 ALREADY_REGISTERED — дубликат; 403 ADMIN_ALREADY_EXISTS —
// запрошена роль admin при занятом слоте (аккаунт не создан).
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON в теле запроса")
		return
	}

	acc, err := h.svc.CreateAccount(r.Context(), service.CreateAccountInput{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// ListAccounts — GET /api/v1/accounts.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	accounts, total, err := h.svc.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := listAccountsResponse{
		Accounts: make([]accountResponse, 0, len(accounts)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, acc := range accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(acc))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccount — GET /api/v1/accounts/{subjectID}.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	acc, err := h.svc.GetAccount(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

// SetRole — PUT /api/v1/accounts/{subjectID}/role.
// 200 — роль назначена; 403 ADMIN_ALREADY_EXISTS — слот admin занят
// другим субъектом, прежняя роль сохранена.
func (h *AccountsHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON в теле запроса")
		return
	}

	acc, err := h.svc.ChangeRole(r.Context(), subjectID, req.Role)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

// DeleteAccount — DELETE /api/v1/accounts/{subjectID}.
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	if err := h.svc.DeleteAccount(r.Context(), subjectID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError мапит ошибки сервисного слоя на HTTP-ответы.
func (h *AccountsHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		apierrors.ValidationError(w, service.ErrInvalidRole.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Учётная запись не найдена")
	case errors.Is(err, service.ErrAdminExists):
		apierrors.AdminExists(w, "Роль admin уже занята другим аккаунтом")
	case errors.Is(err, service.ErrConflict):
		apierrors.AlreadyRegistered(w, "Учётная запись уже существует")
	case errors.Is(err, service.ErrIDPUnavailable):
		apierrors.IDPUnavailable(w, "Identity Provider недоступен")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
