package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Inbound is one of the client event variants below.
type Inbound interface {
	Kind() string
}

type JoinEvent struct {
	RoomID   string `json:"roomId" validate:"roomid"`
	Password string `json:"password" validate:"max=256"`
}

type LeaveEvent struct {
	RoomID string `json:"roomId" validate:"roomid"`
}

type SendEvent struct {
	RoomID      string `json:"roomId" validate:"roomid"`
	Content     string `json:"content" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text image"`
}

type DeleteEvent struct {
	RoomID    string `json:"roomId" validate:"roomid"`
	MessageID string `json:"messageId" validate:"required,max=128"`
}

type KickEvent struct {
	RoomID string `json:"roomId" validate:"roomid"`
	UserID string `json:"userId" validate:"userid"`
}

type BanEvent struct {
	RoomID string `json:"roomId" validate:"roomid"`
	UserID string `json:"userId" validate:"userid"`
	Reason string `json:"reason" validate:"max=500"`
	// Duration in seconds; zero bans until the record is removed.
	Duration int64 `json:"duration" validate:"gte=0"`
}

type UnbanEvent struct {
	RoomID string `json:"roomId" validate:"roomid"`
	UserID string `json:"userId" validate:"userid"`
}

type PingEvent struct{}

type WhoAmIEvent struct{}

func (JoinEvent) Kind() string   { return "join" }
func (LeaveEvent) Kind() string  { return "leave" }
func (SendEvent) Kind() string   { return "send" }
func (DeleteEvent) Kind() string { return "delete" }
func (KickEvent) Kind() string   { return "kick" }
func (BanEvent) Kind() string    { return "ban" }
func (UnbanEvent) Kind() string  { return "unban" }
func (PingEvent) Kind() string   { return "ping" }
func (WhoAmIEvent) Kind() string { return "whoami" }

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterAlias("roomid", fmt.Sprintf("required,max=%d", domain.MaxRoomIDLen))
	v.RegisterAlias("userid", fmt.Sprintf("required,max=%d", domain.MaxUserIDLen))
	return v
}

// Decode parses a client frame of the form {"type": "<kind>", ...fields}
// and validates it. Every failure is a *domain.ValidationError.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "malformed json"}
	}
	var ev Inbound
	switch env.Type {
	case "join":
		ev = &JoinEvent{}
	case "leave":
		ev = &LeaveEvent{}
	case "send":
		ev = &SendEvent{}
	case "delete":
		ev = &DeleteEvent{}
	case "kick":
		ev = &KickEvent{}
	case "ban":
		ev = &BanEvent{}
	case "unban":
		ev = &UnbanEvent{}
	case "ping":
		return PingEvent{}, nil
	case "whoami":
		return WhoAmIEvent{}, nil
	case "":
		return nil, &domain.ValidationError{Field: "type", Reason: "missing"}
	default:
		return nil, &domain.ValidationError{Field: "type", Reason: "unknown event " + env.Type}
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "malformed " + env.Type}
	}
	if err := validate.Struct(ev); err != nil {
		return nil, validationError(err)
	}
	return ev, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ValidationError{Field: "payload", Reason: "invalid"}
	}
	fe := verrs[0]
	var reason string
	switch fe.ActualTag() {
	case "required":
		reason = "required"
	case "max":
		reason = "too long"
	case "oneof":
		reason = "must be one of " + fe.Param()
	case "gte":
		reason = "must not be negative"
	default:
		reason = "failed " + fe.Tag()
	}
	return &domain.ValidationError{Field: fe.Field(), Reason: reason}
}
