package model

// Identity — подтверждённая личность вызывающего на время одного запроса.
// Формируется Token Verifier из валидированного JWT, не персистится.
type Identity struct {
	// SubjectID — sub из JWT (Keycloak user ID)
	SubjectID string
	// Email — email из JWT
	Email string
	// PreferredUsername — preferred_username из JWT
	PreferredUsername string
	// RawClaims — остальные claims токена (для диагностики, не для решений)
	RawClaims map[string]any
}
