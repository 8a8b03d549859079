package chatconfig

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

// Store is the slice of the chat repository the resolver needs.
type Store interface {
	GetConfig(chatID int64) ([]byte, error)
	SetConfig(chatID int64, config []byte) error
}

const (
	// Values found directly on a chat are cached briefly; values
	// inherited from the default chat were just materialized onto the
	// chat and can live longer.
	chatTTL      = 30 * time.Second
	inheritedTTL = 5 * time.Minute
)

// Resolver resolves named configuration options for a chat.
//
// Lookup order for a key: the chat's own config; else the default
// chat's (id 0), in which case the value is written into the chat's
// config (lazy materialization); else the caller-supplied default.
// The cache is populated with the value that was just read or written,
// never re-fetched stale after a write.
type Resolver struct {
	store  Store
	cache  *gocache.Cache
	logger *zap.Logger
}

func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  gocache.New(chatTTL, time.Minute),
		logger: logger,
	}
}

func cacheKey(chatID int64, key string) string {
	return fmt.Sprintf("%d:%s", chatID, key)
}

// Raw resolves a key to its raw JSON value. The boolean reports
// whether the key was found at any level.
func (r *Resolver) Raw(chatID int64, key string) (json.RawMessage, bool) {
	ck := cacheKey(chatID, key)
	if v, ok := r.cache.Get(ck); ok {
		return v.(json.RawMessage), true
	}

	cfg, err := r.loadConfig(chatID)
	if err != nil {
		r.logger.Error("Failed to load chat config", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil, false
	}
	if raw, ok := cfg[key]; ok {
		r.cache.Set(ck, raw, chatTTL)
		return raw, true
	}

	if chatID == models.DefaultChatID {
		return nil, false
	}

	defaults, err := r.loadConfig(models.DefaultChatID)
	if err != nil {
		r.logger.Error("Failed to load default chat config", zap.Error(err))
		return nil, false
	}
	raw, ok := defaults[key]
	if !ok {
		return nil, false
	}

	// Materialize the inherited value onto the specific chat so the
	// next read is local, and cache the value we just wrote.
	cfg[key] = raw
	if err := r.writeConfig(chatID, cfg); err != nil {
		r.logger.Error("Failed to materialize inherited config value",
			zap.Int64("chat_id", chatID), zap.String("key", key), zap.Error(err))
	}
	r.cache.Set(ck, raw, inheritedTTL)
	return raw, true
}

// Set writes a key into the chat's config. The DB write and the cache
// update happen together; the cache holds the new value, not a
// re-fetched one.
func (r *Resolver) Set(chatID int64, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal config value %q: %w", key, err)
	}

	cfg, err := r.loadConfig(chatID)
	if err != nil {
		return err
	}
	cfg[key] = raw
	if err := r.writeConfig(chatID, cfg); err != nil {
		return err
	}
	r.cache.Set(cacheKey(chatID, key), json.RawMessage(raw), chatTTL)
	return nil
}

// Float resolves a key expected to hold a number. A value of the wrong
// type is reported and the caller default is returned, never a
// silently coerced value.
func (r *Resolver) Float(chatID int64, key string, def float64) float64 {
	raw, ok := r.Raw(chatID, key)
	if !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		r.logger.Warn("Config value has wrong type, using default",
			zap.Int64("chat_id", chatID), zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

// Int resolves a key expected to hold an integer.
func (r *Resolver) Int(chatID int64, key string, def int) int {
	raw, ok := r.Raw(chatID, key)
	if !ok {
		return def
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		r.logger.Warn("Config value has wrong type, using default",
			zap.Int64("chat_id", chatID), zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

// Bool resolves a key expected to hold a boolean.
func (r *Resolver) Bool(chatID int64, key string, def bool) bool {
	raw, ok := r.Raw(chatID, key)
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		r.logger.Warn("Config value has wrong type, using default",
			zap.Int64("chat_id", chatID), zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

// Strings resolves a key expected to hold a list of strings.
func (r *Resolver) Strings(chatID int64, key string, def []string) []string {
	raw, ok := r.Raw(chatID, key)
	if !ok {
		return def
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		r.logger.Warn("Config value has wrong type, using default",
			zap.Int64("chat_id", chatID), zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

func (r *Resolver) loadConfig(chatID int64) (map[string]json.RawMessage, error) {
	blob, err := r.store.GetConfig(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read config for chat %d: %w", chatID, err)
	}
	cfg := make(map[string]json.RawMessage)
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config for chat %d: %w", chatID, err)
		}
	}
	return cfg, nil
}

func (r *Resolver) writeConfig(chatID int64, cfg map[string]json.RawMessage) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config for chat %d: %w", chatID, err)
	}
	if err := r.store.SetConfig(chatID, blob); err != nil {
		return fmt.Errorf("failed to write config for chat %d: %w", chatID, err)
	}
	return nil
}
