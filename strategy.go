package authflow

import (
	"context"

	"github.com/vaultik/authflow/password"
)

// passwordStrategy is the default [CredentialStrategy] for [GrantPassword]:
// Argon2id verification against the principal's stored PHC hash.
type passwordStrategy struct {
	hasher *password.Argon2
}

// NewPasswordStrategy returns the default master-password strategy. Pass the
// zero Config to use [password.DefaultConfig].
func NewPasswordStrategy(cfg password.Config) (CredentialStrategy, error) {
	if cfg == (password.Config{}) {
		cfg = password.DefaultConfig()
	}
	hasher, err := password.NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &passwordStrategy{hasher: hasher}, nil
}

func (s *passwordStrategy) GrantType() GrantType { return GrantPassword }

func (s *passwordStrategy) Verify(_ context.Context, principal *Principal, req *TokenRequest) (bool, error) {
	if principal.PasswordHash == "" || req.Credential == "" {
		return false, nil
	}
	ok, err := s.hasher.Verify(req.Credential, principal.PasswordHash)
	if err != nil {
		// An unparsable stored hash is a mismatch from the caller's view;
		// surfacing it would leak account state.
		return false, nil
	}
	return ok, nil
}
