package service

import (
	"testing"
	"time"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
	"github.com/bigkaa/edugate/access-gateway/internal/domain/role"
)

// TestAccountCache_GetSet проверяет базовые операции Get/Set.
func TestAccountCache_GetSet(t *testing.T) {
	cache := NewAccountCache(100, 5*time.Minute)

	acc := &model.Account{
		SubjectID: "subj-1",
		Email:     "petrov@edugate.test",
		Role:      role.Teacher,
	}

	// Cache miss
	_, ok := cache.Get("subj-1")
	if ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	// Set + cache hit
	cache.Set("subj-1", acc)
	got, ok := cache.Get("subj-1")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.SubjectID != "subj-1" {
		t.Errorf("SubjectID = %q, ожидался %q", got.SubjectID, "subj-1")
	}
	if got.Role != role.Teacher {
		t.Errorf("Role = %q, ожидался %q", got.Role, role.Teacher)
	}
}

// TestAccountCache_Delete проверяет инвалидацию.
func TestAccountCache_Delete(t *testing.T) {
	cache := NewAccountCache(100, 5*time.Minute)

	cache.Set("delete-me", &model.Account{SubjectID: "delete-me", Role: role.Student})

	_, ok := cache.Get("delete-me")
	if !ok {
		t.Fatal("ожидался cache hit перед удалением")
	}

	cache.Delete("delete-me")

	_, ok = cache.Get("delete-me")
	if ok {
		t.Fatal("ожидался cache miss после Delete")
	}
}

// TestAccountCache_TTLExpiration проверяет автоматическое истечение TTL.
func TestAccountCache_TTLExpiration(t *testing.T) {
	// Короткий TTL = 50ms для теста
	cache := NewAccountCache(100, 50*time.Millisecond)

	cache.Set("ttl-test", &model.Account{SubjectID: "ttl-test", Role: role.Student})

	// Сразу после Set — должен быть hit
	_, ok := cache.Get("ttl-test")
	if !ok {
		t.Fatal("ожидался cache hit сразу после Set")
	}

	// Ждём истечения TTL
	time.Sleep(100 * time.Millisecond)

	// После истечения TTL — должен быть miss
	_, ok = cache.Get("ttl-test")
	if ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}

// TestAccountCache_Update проверяет обновление записи в кэше.
func TestAccountCache_Update(t *testing.T) {
	cache := NewAccountCache(100, 5*time.Minute)

	cache.Set("update-test", &model.Account{SubjectID: "update-test", Role: role.Unassigned})
	cache.Set("update-test", &model.Account{SubjectID: "update-test", Role: role.Teacher})

	got, ok := cache.Get("update-test")
	if !ok {
		t.Fatal("ожидался cache hit после обновления")
	}
	if got.Role != role.Teacher {
		t.Errorf("Role = %q, ожидался %q", got.Role, role.Teacher)
	}
}
