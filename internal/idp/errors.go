package idp

import "errors"

// Ошибки клиента Keycloak.
var (
	// ErrUserNotFound — пользователь не найден в realm.
	ErrUserNotFound = errors.New("пользователь не найден в Keycloak")
	// ErrUserExists — пользователь с таким username или email уже существует.
	ErrUserExists = errors.New("пользователь уже существует в Keycloak")
)
