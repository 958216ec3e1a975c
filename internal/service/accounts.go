// accounts.go — сервис учётных записей: создание через Keycloak,
// назначение ролей, профиль. Единственная точка, через которую
// назначается роль admin.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
	"github.com/bigkaa/edugate/access-gateway/internal/idp"
	"github.com/bigkaa/edugate/access-gateway/internal/repository"
)

// Prometheus-метрики назначения роли admin.
var (
	adminGrantAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_admin_grant_attempts_total",
		Help: "Общее количество попыток назначить роль admin.",
	})
	adminGrantConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_admin_grant_conflicts_total",
		Help: "Количество попыток назначить admin, отклонённых из-за занятого слота.",
	})
)

// IdentityProvider — операции Keycloak, нужные сервису аккаунтов.
// Реализуется idp.Client; в тестах подменяется фейком.
type IdentityProvider interface {
	CreateUser(ctx context.Context, u idp.NewUser) (string, error)
	GetUser(ctx context.Context, id string) (*idp.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// CreateAccountInput — данные для создания учётной записи.
type CreateAccountInput struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
	// Role — запрошенная роль. Пустое значение — unassigned.
	Role string
}

// AccountService — сервис учётных записей.
// Создание идёт в два шага: пользователь в Keycloak, затем запись
// в хранилище. При отказе хранилища созданный пользователь Keycloak
// удаляется (компенсация), чтобы не оставлять субъектов без аккаунта.
type AccountService struct {
	repo   repository.AccountRepository
	idp    IdentityProvider
	cache  *AccountCache
	logger *slog.Logger
}

// NewAccountService создаёт сервис учётных записей.
func NewAccountService(
	repo repository.AccountRepository,
	provider IdentityProvider,
	cache *AccountCache,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		repo:   repo,
		idp:    provider,
		cache:  cache,
		logger: logger.With(slog.String("component", "account_service")),
	}
}

// CreateAccount создаёт пользователя в Keycloak и учётную запись в хранилище.
// Запрошенная роль admin проходит через атомарное занятие слота: при занятом
// слоте возвращается ErrAdminExists, а пользователь Keycloak удаляется —
// проигравший запрос не оставляет следов.
func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (*model.Account, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	requested := role.Unassigned
	if in.Role != "" {
		parsed, err := role.Parse(in.Role)
		if err != nil {
			return nil, ErrInvalidRole
		}
		requested = parsed
	}

	subjectID, err := s.idp.CreateUser(ctx, idp.NewUser{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  in.Password,
		Temporary: true,
	})
	if err != nil {
		if errors.Is(err, idp.ErrUserExists) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
	}

	acc := &model.Account{
		SubjectID: subjectID,
		Email:     in.Email,
		Role:      requested,
	}

	if requested.IsAdmin() {
		adminGrantAttemptsTotal.Inc()
		err = s.repo.CreateAdmin(ctx, acc)
	} else {
		err = s.repo.Create(ctx, acc)
	}
	if err != nil {
		s.compensateIDPUser(ctx, subjectID)
		switch {
		case errors.Is(err, repository.ErrAdminExists):
			adminGrantConflictsTotal.Inc()
			return nil, ErrAdminExists
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrConflict
		default:
			return nil, fmt.Errorf("создание аккаунта в хранилище: %w", err)
		}
	}

	s.cache.Set(acc.SubjectID, acc)

	s.logger.Info("Учётная запись создана",
		slog.String("subject_id", acc.SubjectID),
		slog.String("role", acc.Role.String()),
	)

	return acc, nil
}

// compensateIDPUser удаляет пользователя Keycloak после отказа хранилища.
// Ошибка компенсации только логируется: запись в хранилище не создана,
// инвариант не нарушен, осиротевший пользователь Keycloak не получит
// доступ (authorization опирается на хранилище).
func (s *AccountService) compensateIDPUser(ctx context.Context, subjectID string) {
	if err := s.idp.DeleteUser(ctx, subjectID); err != nil {
		s.logger.Warn("Не удалось удалить пользователя Keycloak при компенсации",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()),
		)
	}
}

// ChangeRole назначает субъекту новую роль.
// admin идёт через атомарное занятие слота (ErrAdminExists при занятом),
// остальные роли — безусловная запись. Повторное назначение admin
// текущему держателю — no-op без ошибки.
func (s *AccountService) ChangeRole(ctx context.Context, subjectID, newRole string) (*model.Account, error) {
	parsed, err := role.Parse(newRole)
	if err != nil {
		return nil, ErrInvalidRole
	}

	if parsed.IsAdmin() {
		adminGrantAttemptsTotal.Inc()
		err = s.repo.GrantAdmin(ctx, subjectID)
	} else {
		err = s.repo.SetRole(ctx, subjectID, parsed)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrAdminExists):
			adminGrantConflictsTotal.Inc()
			return nil, ErrAdminExists
		default:
			return nil, fmt.Errorf("смена роли: %w", err)
		}
	}

	// Инвалидация локального кэша. Кэши других экземпляров gateway
	// сойдутся по TTL.
	s.cache.Delete(subjectID)

	s.logger.Info("Роль изменена",
		slog.String("subject_id", subjectID),
		slog.String("role", parsed.String()),
	)

	return s.GetAccount(ctx, subjectID)
}

// Profile возвращает аккаунт субъекта, используя кэш.
// ErrNotFound — токен валиден, но учётной записи в хранилище нет.
func (s *AccountService) Profile(ctx context.Context, subjectID string) (*model.Account, error) {
	if acc, ok := s.cache.Get(subjectID); ok {
		return acc, nil
	}

	acc, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение аккаунта: %w", err)
	}

	s.cache.Set(subjectID, acc)
	return acc, nil
}

// GetAccount возвращает аккаунт напрямую из хранилища, минуя кэш.
func (s *AccountService) GetAccount(ctx context.Context, subjectID string) (*model.Account, error) {
	acc, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение аккаунта: %w", err)
	}
	return acc, nil
}

// ListAccounts возвращает аккаунты с пагинацией и общее количество.
func (s *AccountService) ListAccounts(ctx context.Context, limit, offset int) ([]*model.Account, int, error) {
	accounts, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список аккаунтов: %w", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт аккаунтов: %w", err)
	}
	return accounts, total, nil
}

// DeleteAccount удаляет учётную запись из хранилища и пользователя
// из Keycloak. Порядок важен: сначала хранилище (слот admin освобождается
// каскадно), затем Keycloak — ошибка Keycloak не оставляет запись с ролью
// без субъекта.
func (s *AccountService) DeleteAccount(ctx context.Context, subjectID string) error {
	if err := s.repo.Delete(ctx, subjectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление аккаунта: %w", err)
	}

	s.cache.Delete(subjectID)

	if err := s.idp.DeleteUser(ctx, subjectID); err != nil && !errors.Is(err, idp.ErrUserNotFound) {
		// Запись уже удалена, пользователь Keycloak остался без аккаунта —
		// доступ он не получит, но зафиксируем для ручной очистки
		s.logger.Warn("Не удалось удалить пользователя Keycloak",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Учётная запись удалена", slog.String("subject_id", subjectID))
	return nil
}

// validateInput проверяет обязательные поля запроса на создание.
func validateInput(in CreateAccountInput) error {
	if strings.TrimSpace(in.Username) == "" {
		return fmt.Errorf("%w: username обязателен", ErrValidation)
	}
	if strings.TrimSpace(in.Email) == "" || !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: некорректный email", ErrValidation)
	}
	return nil
}
