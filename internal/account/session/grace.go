package session

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	sharedredis "github.com/eaglebank/moneyflow/shared/redis"
)

const (
	graceKeyPrefix = "session:grace:"
	graceKeyInfo   = "refresh-token-grace"
)

// RotationGrace remembers which successor a rotated token produced. The
// successor's raw value is sealed under a key derived from the old raw
// token, which the cache never sees: only its SHA-256 names the entry.
type RotationGrace struct {
	SealedSuccessor []byte    `json:"sealedSuccessor"`
	SuccessorID     string    `json:"successorId"`
	Until           time.Time `json:"until"`
}

var errGraceUnsealed = errors.New("grace entry cannot be opened")

func newRotationGrace(oldRaw, successorRaw, successorID string, until time.Time) (*RotationGrace, error) {
	aead, err := graceAEAD(oldRaw)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(successorRaw)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &RotationGrace{
		SealedSuccessor: aead.Seal(nonce, nonce, []byte(successorRaw), []byte(successorID)),
		SuccessorID:     successorID,
		Until:           until,
	}, nil
}

// Successor recovers the successor's raw value; it needs the old raw token.
func (g *RotationGrace) Successor(oldRaw string) (string, error) {
	aead, err := graceAEAD(oldRaw)
	if err != nil {
		return "", err
	}
	if len(g.SealedSuccessor) < aead.NonceSize() {
		return "", errGraceUnsealed
	}
	nonce, sealed := g.SealedSuccessor[:aead.NonceSize()], g.SealedSuccessor[aead.NonceSize():]
	raw, err := aead.Open(nil, nonce, sealed, []byte(g.SuccessorID))
	if err != nil {
		return "", errGraceUnsealed
	}
	return string(raw), nil
}

func graceAEAD(oldRaw string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(oldRaw), nil, []byte(graceKeyInfo)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

type GraceCache interface {
	Remember(ctx context.Context, oldHash string, grace *RotationGrace)
	Lookup(ctx context.Context, oldHash string) (*RotationGrace, bool)
}

// RedisGraceCache keeps grace entries in Redis for exactly the window, so
// every replica can answer a retry.
type RedisGraceCache struct {
	cache *sharedredis.ViewCache[RotationGrace]
}

func NewRedisGraceCache(client *goredis.Client, window time.Duration, logger *zap.Logger) *RedisGraceCache {
	return &RedisGraceCache{cache: sharedredis.NewViewCache[RotationGrace](client, window, logger)}
}

func (c *RedisGraceCache) Remember(ctx context.Context, oldHash string, grace *RotationGrace) {
	c.cache.Set(ctx, graceKeyPrefix+oldHash, grace)
}

func (c *RedisGraceCache) Lookup(ctx context.Context, oldHash string) (*RotationGrace, bool) {
	return c.cache.Get(ctx, graceKeyPrefix+oldHash)
}
