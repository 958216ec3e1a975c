// Пакет role — закрытое перечисление ролей Access Gateway.
// Авторизация сравнивает роли строго на равенство: иерархии ролей нет,
// admin не получает автоматически доступ к маршрутам teacher или student.
package role

import "fmt"

// Role — уровень авторизации аккаунта.
type Role string

// Допустимые роли.
const (
	// Admin — администратор. Во всей системе не более одного аккаунта
	// с этой ролью (инвариант single-admin).
	Admin Role = "admin"
	// Teacher — преподаватель.
	Teacher Role = "teacher"
	// Student — обучающийся.
	Student Role = "student"
	// Unassigned — роль не назначена. Значение по умолчанию для новых
	// аккаунтов и fallback при разборе неизвестной строки.
	Unassigned Role = "unassigned"
)

// all — множество допустимых ролей.
var all = map[Role]bool{
	Admin:      true,
	Teacher:    true,
	Student:    true,
	Unassigned: true,
}

// Parse преобразует строку в Role.
// Неизвестная строка — ошибка и fallback Unassigned, чтобы опечатка
// в роли обнаруживалась при конструировании, а не при сравнении.
func Parse(s string) (Role, error) {
	r := Role(s)
	if !all[r] {
		return Unassigned, fmt.Errorf("недопустимая роль %q: допустимые значения — admin, teacher, student, unassigned", s)
	}
	return r, nil
}

// IsValid проверяет, является ли значение допустимой ролью.
func (r Role) IsValid() bool {
	return all[r]
}

// IsAdmin — является ли роль административной.
func (r Role) IsAdmin() bool {
	return r == Admin
}

// String возвращает строковое представление роли.
func (r Role) String() string {
	return string(r)
}

// Dashboards возвращает роли, для которых существует собственный dashboard.
// Unassigned не имеет dashboard-маршрута.
func Dashboards() []Role {
	return []Role{Admin, Teacher, Student}
}
