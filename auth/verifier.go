package auth

import (
	"chat-relay/errors"
	"fmt"
)

// Verifier is the credential-to-identity collaborator used by the
// protocol handler. Every channel that carries a token goes through
// Verify; the send channel re-checks on every payload so rotated or
// expired tokens are caught mid-session.
type Verifier struct{}

func NewVerifier() Verifier { return Verifier{} }

func (Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", errors.ErrInvalidToken
	}
	claims, err := ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", errors.ErrInvalidToken
	}
	return claims.UserID, nil
}
