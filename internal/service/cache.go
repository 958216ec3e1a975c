// Пакет service — бизнес-логика Access Gateway.
// cache.go — LRU-кэш аккаунтов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edugate/access-gateway/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш аккаунтов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша аккаунтов.",
	})
)

// AccountCache — LRU-кэш аккаунтов с автоматическим TTL.
// Каждый экземпляр gateway имеет собственный in-memory кэш (per-instance,
// stateless архитектура). Кэш используется только для чтения роли при
// авторизации запросов; проверка инварианта single-admin всегда идёт
// в хранилище, мимо кэша.
type AccountCache struct {
	cache *expirable.LRU[string, *model.Account]
}

// NewAccountCache создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления; ограничивает окно, в котором
// другой экземпляр gateway может видеть устаревшую роль.
func NewAccountCache(maxSize int, ttl time.Duration) *AccountCache {
	cache := expirable.NewLRU[string, *model.Account](maxSize, nil, ttl)
	return &AccountCache{cache: cache}
}

// Get возвращает аккаунт из кэша по subject ID.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *AccountCache) Get(subjectID string) (*model.Account, bool) {
	val, ok := c.cache.Get(subjectID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *AccountCache) Set(subjectID string, acc *model.Account) {
	c.cache.Add(subjectID, acc)
}

// Delete удаляет запись из кэша (инвалидация при смене роли или удалении).
func (c *AccountCache) Delete(subjectID string) {
	c.cache.Remove(subjectID)
}
