// authz.go — авторизация по роли из хранилища.
// Роль никогда не берётся из токена: после смены роли решение должно
// опираться на актуальное состояние хранилища, а не на содержимое
// токена, выпущенного до смены.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/edugate/access-gateway/internal/api/errors"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
	"github.com/bigkaa/edugate/access-gateway/internal/service"
)

// AccountResolver — получение аккаунта субъекта для авторизации.
// Реализуется service.AccountService (Profile использует кэш с TTL).
type AccountResolver interface {
	Profile(ctx context.Context, subjectID string) (*model.Account, error)
}

// Authorizer — фабрика авторизационных middleware поверх хранилища ролей.
type Authorizer struct {
	resolver AccountResolver
	logger   *slog.Logger
}

// NewAuthorizer создаёт Authorizer.
func NewAuthorizer(resolver AccountResolver, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "authorizer")),
	}
}

// RequireRole возвращает middleware, требующий точного совпадения роли
// субъекта с одной из указанных. Иерархии ролей нет: admin не проходит
// проверку на teacher.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
//
// Субъект без учётной записи получает 403 — токен валиден, но прав нет.
// Отказ хранилища даёт 503, а не 403: без актуальной роли авторизационное
// решение принять нельзя.
func (a *Authorizer) RequireRole(roles ...role.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				apierrors.Unauthorized(w)
				return
			}

			acc, err := a.resolver.Profile(r.Context(), identity.SubjectID)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					apierrors.Forbidden(w, "Учётная запись не зарегистрирована")
					return
				}
				a.logger.Error("Ошибка получения роли субъекта",
					slog.String("subject_id", identity.SubjectID),
					slog.String("error", err.Error()),
				)
				apierrors.StoreUnavailable(w, "Хранилище ролей недоступно")
				return
			}

			for _, allowed := range roles {
				if acc.Role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.Forbidden(w, "Недостаточно прав")
		})
	}
}
