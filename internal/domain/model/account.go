// Пакет model — доменные модели Access Gateway.
package model

import (
	"time"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// Account — запись аккаунта в хранилище.
// subject_id назначается Keycloak при provisioning и неизменяем;
// единственное мутируемое поле после создания — Role.
type Account struct {
	// SubjectID — идентификатор субъекта (sub из JWT, первичный ключ)
	SubjectID string
	// Email — адрес электронной почты
	Email string
	// Role — текущая роль аккаунта
	Role role.Role
	// CreatedAt — время создания записи
	CreatedAt time.Time
}
