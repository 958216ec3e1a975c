// Пакет errors — конструкторы стандартных ошибок в формате EduGate.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	// CodeAlreadyRegistered — повторное создание учётной записи.
	CodeAlreadyRegistered = "ALREADY_REGISTERED"
	// CodeAdminExists — отдельный код для сработавшего инварианта
	// единственного admin: клиент не должен повторять такой запрос.
	CodeAdminExists      = "ADMIN_ALREADY_EXISTS"
	CodeIDPUnavailable   = "IDP_UNAVAILABLE"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате EduGate.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
// Тело одинаковое для всех причин отказа: отсутствующий, искажённый
// и просроченный токен неразличимы для клиента.
func Unauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "Требуется аутентификация")
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// AlreadyRegistered — 400 учётная запись уже существует.
func AlreadyRegistered(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeAlreadyRegistered, message)
}

// AdminExists — 403 роль admin уже занята.
// Статус 403, но код ADMIN_ALREADY_EXISTS отличим от FORBIDDEN:
// клиент не должен повторять запрос как транзиентную ошибку.
func AdminExists(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeAdminExists, message)
}

// IDPUnavailable — 502 Identity Provider (Keycloak) недоступен.
func IDPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeIDPUnavailable, message)
}

// StoreUnavailable — 503 хранилище ролей недоступно.
// Используется, когда авторизационное решение принять нельзя:
// отказ хранилища не должен превращаться в 403.
func StoreUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
