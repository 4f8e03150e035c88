// Package idempotency records the outcome of POST requests under a client
// supplied Idempotency-Key so that retries replay the first response instead
// of booking twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingPrefix = "pending:"

var (
	// ErrInProgress means another request holding the same key has not finished.
	ErrInProgress = errors.New("idempotency: request with this key is in progress")
	// ErrKeyReused means the key was first used with a different request body.
	ErrKeyReused = errors.New("idempotency: key reused with a different request")
)

// Record is a stored response.
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
}

type Store struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, prefix: "clinic:idem:"}
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Reserve claims key for a new request. It returns (nil, nil) when the caller
// owns the key and must later Complete or Release it, or the stored Record when
// the key has already completed with the same fingerprint.
func (s *Store) Reserve(ctx context.Context, key, fingerprint string) (*Record, error) {
	k := s.prefix + key
	ok, err := s.client.SetNX(ctx, k, pendingPrefix+fingerprint, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; let the caller retry.
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}

	if fp, pending := strings.CutPrefix(val, pendingPrefix); pending {
		if fp != fingerprint {
			return nil, ErrKeyReused
		}
		return nil, ErrInProgress
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	return &rec, nil
}

// Complete stores the final response for key.
func (s *Store) Complete(ctx context.Context, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

// Release drops a reservation so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
