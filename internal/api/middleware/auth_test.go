package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-ag"

// testIssuer — ожидаемый issuer в тестовых токенах.
const testIssuer = "https://keycloak.test/realms/edugate"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth для тестов.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	return NewJWTAuthWithKeyfunc(kf, testIssuer, testLogger())
}

// generateToken генерирует подписанный JWT.
func generateToken(t *testing.T, key *rsa.PrivateKey, sub, username, email, issuer string, expired bool) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}

	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"email":              email,
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(exp),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// doAuthRequest прогоняет запрос через JWT middleware.
func doAuthRequest(auth *JWTAuth, authHeader string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	handler := auth.Middleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// --- Тесты JWT Middleware ---

// TestJWTAuth_ValidToken — валидный JWT: identity попадает в контекст.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tokenStr := generateToken(t, key, "subj-123", "petrov", "petrov@edugate.test", testIssuer, false)

	rec := doAuthRequest(auth, "Bearer "+tokenStr, func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if identity == nil {
			t.Fatal("identity не найдена в контексте")
		}
		if identity.SubjectID != "subj-123" {
			t.Errorf("ожидался sub=subj-123, получен %s", identity.SubjectID)
		}
		if identity.PreferredUsername != "petrov" {
			t.Errorf("ожидался username=petrov, получен %s", identity.PreferredUsername)
		}
		if identity.Email != "petrov@edugate.test" {
			t.Errorf("ожидался email=petrov@edugate.test, получен %s", identity.Email)
		}
		w.WriteHeader(http.StatusOK)
	})

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_Uniform401 — все причины отказа дают одинаковый 401.
func TestJWTAuth_Uniform401(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	otherKey := generateTestKey(t)

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор вместо токена", "Bearer not-a-jwt"},
		{"просроченный токен", "Bearer " + generateToken(t, key, "subj-1", "u", "u@e.t", testIssuer, true)},
		{"чужой ключ подписи", "Bearer " + generateToken(t, otherKey, "subj-1", "u", "u@e.t", testIssuer, false)},
		{"чужой issuer", "Bearer " + generateToken(t, key, "subj-1", "u", "u@e.t", "https://evil.test/realms/x", false)},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doAuthRequest(auth, tt.header, func(w http.ResponseWriter, _ *http.Request) {
				t.Error("handler не должен вызываться при отказе аутентификации")
			})
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			bodies = append(bodies, rec.Body.String())
		})
	}

	// Тела всех отказов идентичны: причина не раскрывается
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("тело отказа %d отличается от первого: %s != %s", i, bodies[i], bodies[0])
		}
	}
}

// TestJWTAuth_MissingSub — токен без sub отклоняется.
func TestJWTAuth_MissingSub(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	claims := jwt.MapClaims{
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}

	rec := doAuthRequest(auth, "Bearer "+tokenStr, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler не должен вызываться")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestJWTAuth_HS256Rejected — токен с симметричной подписью отклоняется,
// даже если подписан содержимым, известным атакующему.
func TestJWTAuth_HS256Rejected(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	claims := jwt.MapClaims{
		"sub": "subj-1",
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	rec := doAuthRequest(auth, "Bearer "+tokenStr, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler не должен вызываться")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestSubjectFromContext — извлечение subject без identity.
func TestSubjectFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := SubjectFromContext(req.Context()); got != "" {
		t.Errorf("ожидалась пустая строка, получено %q", got)
	}
}

// TestKeycloakReadinessChecker проверяет checker против mock JWKS.
func TestKeycloakReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(jwksJSON)
	}))
	defer server.Close()

	checker, err := NewKeycloakReadinessChecker(server.URL, "", 2*time.Second)
	if err != nil {
		t.Fatalf("NewKeycloakReadinessChecker() ошибка: %v", err)
	}

	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("ожидался status=ok, получен %s: %s", status, msg)
	}
}

// TestKeycloakReadinessChecker_Fail — недоступный Keycloak.
func TestKeycloakReadinessChecker_Fail(t *testing.T) {
	checker, err := NewKeycloakReadinessChecker("http://localhost:1/jwks", "", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewKeycloakReadinessChecker() ошибка: %v", err)
	}

	status, _ := checker.CheckReady()
	if status != "fail" {
		t.Errorf("ожидался status=fail, получен %s", status)
	}
}

// TestKeycloakReadinessChecker_EmptyKeys — JWKS без ключей.
func TestKeycloakReadinessChecker_EmptyKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[]}`))
	}))
	defer server.Close()

	checker, err := NewKeycloakReadinessChecker(server.URL, "", 2*time.Second)
	if err != nil {
		t.Fatalf("NewKeycloakReadinessChecker() ошибка: %v", err)
	}

	status, _ := checker.CheckReady()
	if status != "degraded" {
		t.Errorf("ожидался status=degraded, получен %s", status)
	}
}
