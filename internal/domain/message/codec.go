package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/contracts"
)

// ErrMalformedMessage matches every decode failure via errors.Is.
var ErrMalformedMessage = errors.New("malformed message")

// MalformedError describes why a payload could not be decoded.
type MalformedError struct {
	Reason string
	Err    error
}

// Error returns the reason, with the underlying cause when there is one.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Is makes every MalformedError match ErrMalformedMessage.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedMessage
}

// Encode validates m and renders it in the wire format.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}

	return json.Marshal(contracts.Envelope{
		Type:           string(m.Kind),
		TeamName:       m.TeamName,
		EquipmentType:  m.EquipmentType,
		OrderNumber:    m.OrderNumber,
		SupplierName:   m.SupplierName,
		Content:        m.Content,
		RecipientGroup: string(m.RecipientGroup),
	})
}

// Decode parses a wire payload. Unknown fields are ignored, absent fields
// stay zero and fields that do not belong to the payload's kind are dropped.
// Every failure is a *MalformedError.
func Decode(body []byte) (Message, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, &MalformedError{Reason: "invalid json", Err: err}
	}

	var m Message
	switch Kind(env.Type) {
	case KindOrder:
		m = Message{
			Kind:          KindOrder,
			TeamName:      env.TeamName,
			EquipmentType: env.EquipmentType,
			OrderNumber:   env.OrderNumber,
			SupplierName:  env.SupplierName,
		}
	case KindConfirmation:
		m = NewConfirmation(env.TeamName, env.SupplierName, env.OrderNumber, env.EquipmentType)
	case KindAdmin:
		group := Group(env.RecipientGroup)
		if !group.Valid() {
			return Message{}, &MalformedError{Reason: fmt.Sprintf("unknown recipient_group %q", env.RecipientGroup)}
		}
		m = NewAdmin(env.Content, group)
	case "":
		return Message{}, &MalformedError{Reason: "missing type"}
	default:
		return Message{}, &MalformedError{Reason: fmt.Sprintf("unknown type %q", env.Type)}
	}

	if m.OrderNumber < 0 {
		return Message{}, &MalformedError{Reason: "negative order_number"}
	}

	return m, nil
}
