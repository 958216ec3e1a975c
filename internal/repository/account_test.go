package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/edugate/access-gateway/internal/config"
	"github.com/bigkaa/edugate/access-gateway/internal/database"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool с автоматической очисткой.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("edugate_test"),
		postgres.WithUsername("edugate"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("AG_DB_HOST", host)
	t.Setenv("AG_DB_PORT", port.Port())
	t.Setenv("AG_DB_NAME", "edugate_test")
	t.Setenv("AG_DB_USER", "edugate")
	t.Setenv("AG_DB_PASSWORD", "test-password")
	t.Setenv("AG_DB_SSL_MODE", "disable")
	t.Setenv("AG_KEYCLOAK_URL", "http://localhost:8080")
	t.Setenv("AG_KEYCLOAK_CLIENT_ID", "test")
	t.Setenv("AG_KEYCLOAK_CLIENT_SECRET", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newAccount создаёт модель аккаунта для тестов.
func newAccount(r role.Role) *model.Account {
	id := uuid.New().String()
	return &model.Account{
		SubjectID: id,
		Email:     fmt.Sprintf("user-%s@edugate.test", id[:8]),
		Role:      r,
	}
}

// --- CRUD ---

func TestAccountCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	acc := newAccount(role.Student)

	// Create
	if err := repo.Create(ctx, acc); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if acc.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Повторное создание с тем же subject_id — ErrConflict независимо от payload
	dup := &model.Account{SubjectID: acc.SubjectID, Email: "other@edugate.test", Role: role.Teacher}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create() = %v, хотели ErrConflict", err)
	}

	// Get
	got, err := repo.Get(ctx, acc.SubjectID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Role != role.Student {
		t.Errorf("Role = %q, хотели %q", got.Role, role.Student)
	}
	if got.Email != acc.Email {
		t.Errorf("Email = %q, хотели %q", got.Email, acc.Email)
	}

	// GetByEmail
	byEmail, err := repo.GetByEmail(ctx, acc.Email)
	if err != nil {
		t.Fatalf("GetByEmail() ошибка: %v", err)
	}
	if byEmail.SubjectID != acc.SubjectID {
		t.Errorf("GetByEmail().SubjectID = %q, хотели %q", byEmail.SubjectID, acc.SubjectID)
	}

	// List + Count
	list, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() вернул %d записей, хотели 1", len(list))
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, хотели 1", count)
	}

	// Delete
	if err := repo.Delete(ctx, acc.SubjectID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.Get(ctx, acc.SubjectID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() после Delete() = %v, хотели ErrNotFound", err)
	}
	if err := repo.Delete(ctx, acc.SubjectID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete() = %v, хотели ErrNotFound", err)
	}
}

func TestCreate_AdminRejected(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewAccountRepository(pool)

	if err := repo.Create(context.Background(), newAccount(role.Admin)); err == nil {
		t.Fatal("Create() с ролью admin должен возвращать ошибку")
	}
}

func TestSetRole_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewAccountRepository(pool)

	err := repo.SetRole(context.Background(), uuid.New().String(), role.Teacher)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRole() = %v, хотели ErrNotFound", err)
	}
}

// --- Инвариант single-admin ---

func TestCreateAdmin_SetsRoleAndSlot(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	acc := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, acc); err != nil {
		t.Fatalf("CreateAdmin() ошибка: %v", err)
	}

	got, err := repo.Get(ctx, acc.SubjectID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Role != role.Admin {
		t.Errorf("Role = %q, хотели admin", got.Role)
	}

	holder, err := repo.AdminHolder(ctx)
	if err != nil {
		t.Fatalf("AdminHolder() ошибка: %v", err)
	}
	if holder != acc.SubjectID {
		t.Errorf("AdminHolder() = %q, хотели %q", holder, acc.SubjectID)
	}
}

// TestCreateAdmin_Race — N конкурентных созданий admin-аккаунта без
// существующего admin: ровно один выигрывает, проигравшие не создаются вовсе.
func TestCreateAdmin_Race(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	const n = 8
	accounts := make([]*model.Account, n)
	for i := range accounts {
		accounts[i] = newAccount(role.Admin)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.CreateAdmin(ctx, accounts[i])
		}(i)
	}
	wg.Wait()

	var granted, refused int
	for i, err := range errs {
		switch {
		case err == nil:
			granted++
			// Победитель создан с ролью admin
			got, gerr := repo.Get(ctx, accounts[i].SubjectID)
			if gerr != nil {
				t.Fatalf("Get() победителя: %v", gerr)
			}
			if got.Role != role.Admin {
				t.Errorf("роль победителя = %q, хотели admin", got.Role)
			}
		case errors.Is(err, ErrAdminExists):
			refused++
			// Проигравший не создан вовсе (выбранный порядок: guard в одной
			// транзакции со вставкой, откат убирает запись)
			if _, gerr := repo.Get(ctx, accounts[i].SubjectID); !errors.Is(gerr, ErrNotFound) {
				t.Errorf("проигравший аккаунт существует: %v", gerr)
			}
		default:
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}

	if granted != 1 {
		t.Errorf("успешных созданий admin = %d, хотели ровно 1", granted)
	}
	if refused != n-1 {
		t.Errorf("отказов = %d, хотели %d", refused, n-1)
	}

	admins, err := repo.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins() ошибка: %v", err)
	}
	if admins != 1 {
		t.Errorf("CountAdmins() = %d, хотели 1", admins)
	}
}

// TestGrantAdmin_Race — N конкурентных назначений admin существующим
// аккаунтам: ровно один успех, N-1 получают ErrAdminExists.
func TestGrantAdmin_Race(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	const n = 8
	accounts := make([]*model.Account, n)
	for i := range accounts {
		accounts[i] = newAccount(role.Unassigned)
		if err := repo.Create(ctx, accounts[i]); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.GrantAdmin(ctx, accounts[i].SubjectID)
		}(i)
	}
	wg.Wait()

	var granted, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrAdminExists):
			refused++
		default:
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}

	if granted != 1 || refused != n-1 {
		t.Errorf("успехов = %d, отказов = %d; хотели 1 и %d", granted, refused, n-1)
	}

	admins, err := repo.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins() ошибка: %v", err)
	}
	if admins != 1 {
		t.Errorf("CountAdmins() = %d, хотели 1", admins)
	}
}

// TestGrantAdmin_RefusedWhileAdminExists — при существующем admin оба
// конкурентных запроса на повышение других субъектов получают отказ,
// их прежние роли сохраняются.
func TestGrantAdmin_RefusedWhileAdminExists(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	admin := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin() ошибка: %v", err)
	}

	u2 := newAccount(role.Teacher)
	u3 := newAccount(role.Student)
	for _, acc := range []*model.Account{u2, u3} {
		if err := repo.Create(ctx, acc); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{u2.SubjectID, u3.SubjectID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = repo.GrantAdmin(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrAdminExists) {
			t.Errorf("запрос %d: ошибка = %v, хотели ErrAdminExists", i, err)
		}
	}

	// Прежние роли сохранены
	for _, want := range []struct {
		id string
		r  role.Role
	}{{u2.SubjectID, role.Teacher}, {u3.SubjectID, role.Student}} {
		got, err := repo.Get(ctx, want.id)
		if err != nil {
			t.Fatalf("Get() ошибка: %v", err)
		}
		if got.Role != want.r {
			t.Errorf("роль %s = %q, хотели %q", want.id, got.Role, want.r)
		}
	}
}

// TestGrantAdmin_IdempotentReGrant — повторное назначение admin текущему
// держателю — no-op без ошибки.
func TestGrantAdmin_IdempotentReGrant(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	admin := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin() ошибка: %v", err)
	}

	if err := repo.GrantAdmin(ctx, admin.SubjectID); err != nil {
		t.Fatalf("повторный GrantAdmin() держателю = %v, хотели nil", err)
	}

	admins, err := repo.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins() ошибка: %v", err)
	}
	if admins != 1 {
		t.Errorf("CountAdmins() = %d, хотели 1", admins)
	}
}

// TestSetRole_DemoteReleasesSlot — понижение текущего admin освобождает
// слот, после чего другой субъект может стать admin.
func TestSetRole_DemoteReleasesSlot(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	admin := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin() ошибка: %v", err)
	}

	other := newAccount(role.Student)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Пока admin существует — отказ
	if err := repo.GrantAdmin(ctx, other.SubjectID); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("GrantAdmin() при занятом слоте = %v, хотели ErrAdminExists", err)
	}

	// Понижаем текущего admin
	if err := repo.SetRole(ctx, admin.SubjectID, role.Teacher); err != nil {
		t.Fatalf("SetRole() ошибка: %v", err)
	}
	if _, err := repo.AdminHolder(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("AdminHolder() после понижения = %v, хотели ErrNotFound", err)
	}

	// Теперь слот свободен
	if err := repo.GrantAdmin(ctx, other.SubjectID); err != nil {
		t.Fatalf("GrantAdmin() после освобождения слота = %v", err)
	}

	admins, err := repo.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins() ошибка: %v", err)
	}
	if admins != 1 {
		t.Errorf("CountAdmins() = %d, хотели 1", admins)
	}
}

// TestDelete_AdminFreesSlot — удаление admin-аккаунта освобождает слот
// каскадно (FK ON DELETE CASCADE).
func TestDelete_AdminFreesSlot(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAccountRepository(pool)

	admin := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin() ошибка: %v", err)
	}
	if err := repo.Delete(ctx, admin.SubjectID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}

	if _, err := repo.AdminHolder(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("AdminHolder() после удаления = %v, хотели ErrNotFound", err)
	}

	other := newAccount(role.Admin)
	if err := repo.CreateAdmin(ctx, other); err != nil {
		t.Fatalf("CreateAdmin() после удаления прежнего admin = %v", err)
	}
}

// TestGrantAdmin_UnknownSubject — назначение admin несуществующему субъекту.
func TestGrantAdmin_UnknownSubject(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewAccountRepository(pool)

	err := repo.GrantAdmin(context.Background(), uuid.New().String())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GrantAdmin() = %v, хотели ErrNotFound", err)
	}
}
