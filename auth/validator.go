package auth

import (
	"chat-relay/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// AuthFrame is the first inbound payload on the room channel.
type AuthFrame struct {
	Token string `json:"token" validate:"required"`
}

// SendFrame is each inbound payload on the send channel. The token is
// re-validated per frame, not just at connect time.
type SendFrame struct {
	Token   string `json:"token" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func ValidateAuthFrame(frame AuthFrame) error {
	if err := validate.Struct(frame); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return nil
}

func ValidateSendFrame(frame SendFrame) error {
	if err := validate.Struct(frame); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return nil
}
