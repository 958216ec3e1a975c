// account.go — репозиторий аккаунтов и примитивы инварианта single-admin.
//
// Инвариант «во всём хранилище не более одного аккаунта с ролью admin»
// обеспечивается записью-маркером admin_holder (create-if-absent по slot = 1):
// проверка занятости и запись роли выполняются в одной транзакции PostgreSQL,
// поэтому раздельного read-then-write окна не существует. Частичный уникальный
// индекс accounts_single_admin — подстраховка на уровне схемы.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// AccountRepository — хранилище аккаунтов.
type AccountRepository interface {
	// Get возвращает аккаунт по subject ID.
	Get(ctx context.Context, subjectID string) (*model.Account, error)
	// GetByEmail возвращает аккаунт по email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// Create создаёт аккаунт с не-admin ролью. ErrConflict при дубликате.
	Create(ctx context.Context, acc *model.Account) error
	// CreateAdmin создаёт аккаунт и занимает слот admin в одной транзакции.
	// При занятом слоте — ErrAdminExists, аккаунт не создаётся вовсе.
	CreateAdmin(ctx context.Context, acc *model.Account) error
	// SetRole безусловно устанавливает не-admin роль.
	// Если субъект был текущим admin — освобождает слот в той же транзакции.
	SetRole(ctx context.Context, subjectID string, r role.Role) error
	// GrantAdmin атомарно назначает роль admin: занимает слот и пишет роль
	// в одной транзакции. Повторное назначение текущему держателю — no-op.
	// При слоте, занятом другим субъектом, — ErrAdminExists.
	GrantAdmin(ctx context.Context, subjectID string) error
	// Delete удаляет аккаунт (слот admin освобождается каскадно).
	Delete(ctx context.Context, subjectID string) error
	// List возвращает аккаунты с пагинацией.
	List(ctx context.Context, limit, offset int) ([]*model.Account, error)
	// Count возвращает количество аккаунтов.
	Count(ctx context.Context) (int, error)
	// CountAdmins возвращает количество аккаунтов с ролью admin (0 или 1).
	CountAdmins(ctx context.Context) (int, error)
	// AdminHolder возвращает subject ID текущего держателя роли admin.
	// ErrNotFound, если admin не назначен.
	AdminHolder(ctx context.Context) (string, error)
}

// accountRepo — реализация AccountRepository поверх pgxpool.
type accountRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewAccountRepository создаёт репозиторий аккаунтов.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepo{pool: pool, tx: NewTxRunner(pool)}
}

const accColumns = `subject_id, email, role, created_at`

// scanAccount сканирует строку в model.Account.
func scanAccount(row pgx.Row) (*model.Account, error) {
	acc := &model.Account{}
	var r string
	if err := row.Scan(&acc.SubjectID, &acc.Email, &r, &acc.CreatedAt); err != nil {
		return nil, err
	}
	// CHECK-ограничение схемы гарантирует допустимость значения
	acc.Role = role.Role(r)
	return acc, nil
}

func (r *accountRepo) Get(ctx context.Context, subjectID string) (*model.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE subject_id = $1`, accColumns)

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}
	return acc, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE email = $1`, accColumns)

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аккаунта по email: %w", err)
	}
	return acc, nil
}

func (r *accountRepo) Create(ctx context.Context, acc *model.Account) error {
	if acc.Role.IsAdmin() {
		return errors.New("создание аккаунта с ролью admin должно идти через CreateAdmin")
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (subject_id, email, role) VALUES ($1, $2, $3)
		 RETURNING created_at`,
		acc.SubjectID, acc.Email, acc.Role.String(),
	).Scan(&acc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания аккаунта: %w", err)
	}
	return nil
}

func (r *accountRepo) CreateAdmin(ctx context.Context, acc *model.Account) error {
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		// Сначала сама запись (нужна для FK маркера)
		err := tx.QueryRow(ctx,
			`INSERT INTO accounts (subject_id, email, role) VALUES ($1, $2, $3)
			 RETURNING created_at`,
			acc.SubjectID, acc.Email, role.Unassigned.String(),
		).Scan(&acc.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка создания аккаунта: %w", err)
		}

		// Занимаем слот admin. При конфликте вся транзакция откатывается:
		// проигравший запрос не оставляет ни аккаунта, ни частичной роли.
		claimed, err := claimAdminSlot(ctx, tx, acc.SubjectID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAdminExists
		}

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET role = $2 WHERE subject_id = $1`,
			acc.SubjectID, role.Admin.String(),
		); err != nil {
			return fmt.Errorf("ошибка установки роли admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	acc.Role = role.Admin
	return nil
}

func (r *accountRepo) SetRole(ctx context.Context, subjectID string, newRole role.Role) error {
	if newRole.IsAdmin() {
		return errors.New("назначение роли admin должно идти через GrantAdmin")
	}

	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET role = $2 WHERE subject_id = $1`,
			subjectID, newRole.String(),
		)
		if err != nil {
			return fmt.Errorf("ошибка обновления роли: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		// Понижение текущего admin освобождает слот; для остальных — no-op
		if _, err := tx.Exec(ctx,
			`DELETE FROM admin_holder WHERE subject_id = $1`, subjectID,
		); err != nil {
			return fmt.Errorf("ошибка освобождения слота admin: %w", err)
		}
		return nil
	})
}

func (r *accountRepo) GrantAdmin(ctx context.Context, subjectID string) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx,
			`SELECT role FROM accounts WHERE subject_id = $1 FOR UPDATE`, subjectID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка чтения аккаунта: %w", err)
		}

		claimed, err := claimAdminSlot(ctx, tx, subjectID)
		if err != nil {
			return err
		}
		if !claimed {
			holder, err := adminHolder(ctx, tx)
			if err != nil {
				return err
			}
			if holder == subjectID {
				// Повторное назначение текущему держателю — идемпотентный no-op
				return nil
			}
			return ErrAdminExists
		}

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET role = $2 WHERE subject_id = $1`,
			subjectID, role.Admin.String(),
		); err != nil {
			return fmt.Errorf("ошибка установки роли admin: %w", err)
		}
		return nil
	})
}

func (r *accountRepo) Delete(ctx context.Context, subjectID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE subject_id = $1`, subjectID)
	if err != nil {
		return fmt.Errorf("ошибка удаления аккаунта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) List(ctx context.Context, limit, offset int) ([]*model.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, accColumns)

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка аккаунтов: %w", err)
	}
	defer rows.Close()

	var result []*model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования аккаунта: %w", err)
		}
		result = append(result, acc)
	}
	return result, rows.Err()
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта аккаунтов: %w", err)
	}
	return count, nil
}

func (r *accountRepo) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = $1`, role.Admin.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта admin-аккаунтов: %w", err)
	}
	return count, nil
}

func (r *accountRepo) AdminHolder(ctx context.Context) (string, error) {
	holder, err := adminHolder(ctx, r.pool)
	if err != nil {
		return "", err
	}
	if holder == "" {
		return "", ErrNotFound
	}
	return holder, nil
}

// claimAdminSlot пытается занять слот admin (create-if-absent по slot = 1).
// Возвращает true, если слот занят этим вызовом. Конкурирующая транзакция
// блокируется на вставке до коммита первой и затем видит конфликт.
func claimAdminSlot(ctx context.Context, db DBTX, subjectID string) (bool, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO admin_holder (slot, subject_id) VALUES (1, $1)
		 ON CONFLICT (slot) DO NOTHING`,
		subjectID,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка занятия слота admin: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// adminHolder возвращает subject ID держателя слота ("" — слот свободен).
func adminHolder(ctx context.Context, db DBTX) (string, error) {
	var holder string
	err := db.QueryRow(ctx,
		`SELECT subject_id FROM admin_holder WHERE slot = 1`,
	).Scan(&holder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("ошибка чтения слота admin: %w", err)
	}
	return holder, nil
}
