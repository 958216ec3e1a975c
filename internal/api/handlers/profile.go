// profile.go — профиль аутентифицированного субъекта.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/edugate/access-gateway/internal/api/errors"
	"github.com/bigkaa/edugate/access-gateway/internal/api/middleware"
	"github.com/bigkaa/edugate/access-gateway/internal/service"
)

// ProfileHandler — обработчик GET /api/v1/profile.
type ProfileHandler struct {
	resolver middleware.AccountResolver
	logger   *slog.Logger
}

// NewProfileHandler создаёт обработчик профиля.
func NewProfileHandler(resolver middleware.AccountResolver, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "profile_handler")),
	}
}

// profileResponse — ответ GET /api/v1/profile.
type profileResponse struct {
	accountResponse
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Profile возвращает учётную запись вызывающего субъекта.
// 404 — токен валиден, но учётной записи в хранилище нет.
func (h *ProfileHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Unauthorized(w)
		return
	}

	acc, err := h.resolver.Profile(r.Context(), identity.SubjectID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Учётная запись не зарегистрирована")
			return
		}
		h.logger.Error("Ошибка получения профиля",
			slog.String("subject_id", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		apierrors.StoreUnavailable(w, "Хранилище недоступно")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		accountResponse:   toAccountResponse(acc),
		PreferredUsername: identity.PreferredUsername,
	})
}
