// Package protocol decodes and validates the JSON events clients and services send.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"parlor/internal/content"
	"parlor/internal/models"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownType marks a well-formed event whose type the receiver does not handle.
var ErrUnknownType = errors.New("unknown event type")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return content.ValidRoomID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Envelope is the outer shape of every wire event.
type Envelope struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type MessagePayload struct {
	Message string `json:"message" validate:"required"`
}

type RoomIDPayload struct {
	RoomID string `json:"roomId" validate:"required,roomid"`
}

type JoinPayload struct {
	RoomID string       `json:"roomId" validate:"required,roomid"`
	User   *models.User `json:"user" validate:"required"`
}

type LeavePayload struct {
	RoomID string `json:"roomId" validate:"required,roomid"`
	ID     string `json:"id" validate:"required"`
}

type UpdatePayload struct {
	RoomID string        `json:"roomId" validate:"required,roomid"`
	Users  []models.User `json:"users" validate:"dive"`
}

// Validate checks v against its struct tags. Failures wrap ErrInvalidPayload.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("%w: %s", models.ErrInvalidPayload, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "roomid":
		return field + " must be a 5 character room id"
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

// DecodeEnvelope parses the outer event.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	if err := Validate(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload parses and validates the payload of env into v.
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", models.ErrInvalidPayload)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	return Validate(v)
}
