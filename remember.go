package authflow

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// rememberTokens issues and validates the signed tokens that let a
// recently-verified device skip the second factor. A token is bound to the
// principal, the device identifier, and the principal's security stamp, so
// rotating the stamp (password change, explicit revocation) invalidates every
// outstanding token at once.
type rememberTokens struct {
	cfg   RememberConfig
	clock func() time.Time
}

func newRememberTokens(cfg RememberConfig) *rememberTokens {
	return &rememberTokens{cfg: cfg, clock: time.Now}
}

type rememberClaims struct {
	Device string `json:"dev"`
	Stamp  string `json:"stp"`
	jwt.RegisteredClaims
}

// Issue signs a remember token for the principal and device.
func (r *rememberTokens) Issue(p *Principal, deviceIdentifier string) (string, error) {
	if !r.cfg.Enabled {
		return "", ErrRememberDisabled
	}

	now := r.clock().UTC()
	claims := rememberClaims{
		Device: deviceIdentifier,
		Stamp:  stampDigest(p.SecurityStamp),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.cfg.TTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.cfg.SigningKey)
}

// Verify reports whether the token is a live remember token for the principal
// on the given device. Any parse or binding mismatch is a plain false; the
// caller re-challenges rather than erroring.
func (r *rememberTokens) Verify(p *Principal, token, deviceIdentifier string) bool {
	if !r.cfg.Enabled || token == "" || deviceIdentifier == "" {
		return false
	}

	var claims rememberClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.cfg.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return r.clock().UTC() }))
	if err != nil || !parsed.Valid {
		return false
	}

	return claims.Subject == p.ID &&
		claims.Device == deviceIdentifier &&
		claims.Stamp == stampDigest(p.SecurityStamp)
}

// stampDigest hashes the security stamp so the raw stamp never leaves the
// server inside a token.
func stampDigest(stamp string) string {
	sum := sha256.Sum256([]byte(stamp))
	return hex.EncodeToString(sum[:])
}
