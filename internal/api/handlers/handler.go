// Пакет handlers — HTTP-обработчики Access Gateway.
// handler.go — общие вспомогательные функции и формат ответов.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
)

// accountResponse — представление аккаунта в API.
type accountResponse struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// toAccountResponse конвертирует модель в API-представление.
func toAccountResponse(acc *model.Account) accountResponse {
	return accountResponse{
		SubjectID: acc.SubjectID,
		Email:     acc.Email,
		Role:      acc.Role.String(),
		CreatedAt: acc.CreatedAt,
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationParams извлекает и нормализует limit/offset из query string.
func paginationParams(r *http.Request) (int, int) {
	l := 100
	o := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			l = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			o = v
		}
	}

	if l < 1 {
		l = 1
	}
	if l > 1000 {
		l = 1000
	}
	if o < 0 {
		o = 0
	}

	return l, o
}
