package message

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the discriminant of a Message.
type Kind string

const (
	KindOrder        Kind = "Order"
	KindConfirmation Kind = "Confirmation"
	KindAdmin        Kind = "AdminMessage"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOrder, KindConfirmation, KindAdmin:
		return true
	default:
		return false
	}
}

// Group selects the recipients of an administrative broadcast.
type Group string

const (
	GroupTeams     Group = "TEAMS"
	GroupSuppliers Group = "SUPPLIERS"
	GroupAll       Group = "ALL"
)

// Routing keys used on the admin topic exchange.
const (
	RoutingKeyTeams     = "teams"
	RoutingKeySuppliers = "suppliers"
	RoutingKeyAll       = "all"
)

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	switch g {
	case GroupTeams, GroupSuppliers, GroupAll:
		return true
	default:
		return false
	}
}

// RoutingKey maps the group to its admin exchange routing key.
func (g Group) RoutingKey() string {
	switch g {
	case GroupTeams:
		return RoutingKeyTeams
	case GroupSuppliers:
		return RoutingKeySuppliers
	case GroupAll:
		return RoutingKeyAll
	default:
		return ""
	}
}

// ParseGroup accepts either the group name or its routing key, case-insensitively.
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "teams":
		return GroupTeams, nil
	case "suppliers":
		return GroupSuppliers, nil
	case "all":
		return GroupAll, nil
	default:
		return "", fmt.Errorf("unknown recipient group %q", s)
	}
}

// Message is the single value exchanged between participants.
// Only the fields of its Kind are populated; the rest stay at their zero value.
type Message struct {
	Kind Kind

	// Order and Confirmation
	TeamName      string
	EquipmentType string
	OrderNumber   int // 0 means "not yet assigned"
	SupplierName  string

	// AdminMessage
	Content        string
	RecipientGroup Group
}

// NewOrder builds an unnumbered order placed by team.
func NewOrder(team, equipment string) Message {
	return Message{
		Kind:          KindOrder,
		TeamName:      team,
		EquipmentType: equipment,
	}
}

// NewConfirmation builds a supplier's confirmation of a numbered order.
func NewConfirmation(team, supplier string, orderNumber int, equipment string) Message {
	return Message{
		Kind:          KindConfirmation,
		TeamName:      team,
		SupplierName:  supplier,
		OrderNumber:   orderNumber,
		EquipmentType: equipment,
	}
}

// NewAdmin builds an administrative broadcast for group.
func NewAdmin(content string, group Group) Message {
	return Message{
		Kind:           KindAdmin,
		Content:        content,
		RecipientGroup: group,
	}
}

// Validate checks that the populated fields agree with the kind.
func (m Message) Validate() error {
	var problems []string

	switch m.Kind {
	case KindOrder:
		if m.TeamName == "" {
			problems = append(problems, "order: team_name is required")
		}
		if m.EquipmentType == "" {
			problems = append(problems, "order: equipment_type is required")
		}
		if m.OrderNumber < 0 {
			problems = append(problems, "order: order_number must not be negative")
		}
		if m.Content != "" || m.RecipientGroup != "" {
			problems = append(problems, "order: admin fields must be empty")
		}
	case KindConfirmation:
		if m.TeamName == "" {
			problems = append(problems, "confirmation: team_name is required")
		}
		if m.SupplierName == "" {
			problems = append(problems, "confirmation: supplier_name is required")
		}
		if m.EquipmentType == "" {
			problems = append(problems, "confirmation: equipment_type is required")
		}
		if m.OrderNumber <= 0 {
			problems = append(problems, "confirmation: order_number must be assigned")
		}
		if m.Content != "" || m.RecipientGroup != "" {
			problems = append(problems, "confirmation: admin fields must be empty")
		}
	case KindAdmin:
		if !m.RecipientGroup.Valid() {
			problems = append(problems, fmt.Sprintf("admin: unknown recipient_group %q", m.RecipientGroup))
		}
		if m.TeamName != "" || m.EquipmentType != "" || m.SupplierName != "" || m.OrderNumber != 0 {
			problems = append(problems, "admin: order fields must be empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown type %q", m.Kind))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// String renders the message for console output.
func (m Message) String() string {
	switch m.Kind {
	case KindOrder:
		if m.OrderNumber > 0 {
			return fmt.Sprintf("order #%d for %s from %s", m.OrderNumber, m.EquipmentType, m.TeamName)
		}
		return fmt.Sprintf("order for %s from %s", m.EquipmentType, m.TeamName)
	case KindConfirmation:
		return fmt.Sprintf("confirmation #%d for %s from %s to %s", m.OrderNumber, m.EquipmentType, m.SupplierName, m.TeamName)
	case KindAdmin:
		return fmt.Sprintf("admin message to %s: %s", m.RecipientGroup, m.Content)
	default:
		return fmt.Sprintf("message of unknown type %q", m.Kind)
	}
}
