package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vaultik/authflow/internal"
)

// emailCodeStore holds single-use email verification codes in Redis. Each
// principal has at most one live code; issuing a new one replaces the old.
type emailCodeStore struct {
	cfg    TwoFactorConfig
	client redis.UniversalClient
}

func newEmailCodeStore(cfg TwoFactorConfig, client redis.UniversalClient) *emailCodeStore {
	return &emailCodeStore{cfg: cfg, client: client}
}

func (s *emailCodeStore) key(principalID string) string {
	return s.cfg.RedisPrefix + ":" + principalID
}

// Issue generates a fresh code for the principal and stores it under the
// configured TTL, returning the code for delivery.
func (s *emailCodeStore) Issue(ctx context.Context, principalID string) (string, error) {
	code, err := internal.NewOTP(s.cfg.EmailCodeDigits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmailCodeUnavailable, err)
	}
	if err := s.client.Set(ctx, s.key(principalID), code, s.cfg.EmailCodeTTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmailCodeUnavailable, err)
	}
	return code, nil
}

// Verify compares the submitted code in constant time and consumes it on a
// match. A missing or expired code is a plain mismatch, not an error.
func (s *emailCodeStore) Verify(ctx context.Context, principalID, code string) (bool, error) {
	if s == nil || code == "" {
		return false, nil
	}

	stored, err := s.client.Get(ctx, s.key(principalID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEmailCodeUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}

	if err := s.client.Del(ctx, s.key(principalID)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrEmailCodeUnavailable, err)
	}
	return true, nil
}
