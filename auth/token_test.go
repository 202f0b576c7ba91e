package auth

import (
	"chat-relay/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Token_Roundtrip(t *testing.T) {
	req := require.New(t)

	token, err := GenerateToken("alice", time.Hour)
	req.NoError(err)
	req.NotEmpty(token)

	claims, err := ValidateToken(token)
	req.NoError(err)
	req.Equal("alice", claims.UserID)
	req.Equal("chat-relay", claims.Issuer)
}

func Test_Verifier(t *testing.T) {
	verifier := NewVerifier()

	t.Run("should resolve the user behind a valid token", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateToken("bob", time.Hour)
		req.NoError(err)

		userID, err := verifier.Verify(token)

		req.NoError(err)
		req.Equal("bob", userID)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		req := require.New(t)
		token, err := GenerateToken("bob", -time.Minute)
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, errors.ErrInvalidToken)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		req := require.New(t)

		_, err := verifier.Verify("not-a-jwt")

		req.ErrorIs(err, errors.ErrInvalidToken)
	})

	t.Run("should reject the empty token", func(t *testing.T) {
		req := require.New(t)

		_, err := verifier.Verify("")

		req.ErrorIs(err, errors.ErrInvalidToken)
	})
}

func Test_Frame_Validation(t *testing.T) {
	t.Run("should accept a complete send frame", func(t *testing.T) {
		require.NoError(t, ValidateSendFrame(SendFrame{Token: "t", Message: "hi"}))
	})

	t.Run("should reject a send frame missing its message", func(t *testing.T) {
		err := ValidateSendFrame(SendFrame{Token: "t"})
		require.ErrorIs(t, err, errors.ErrMalformedFrame)
	})

	t.Run("should reject an auth frame missing its token", func(t *testing.T) {
		err := ValidateAuthFrame(AuthFrame{})
		require.ErrorIs(t, err, errors.ErrMalformedFrame)
	})
}
