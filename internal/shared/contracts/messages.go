package contracts

// Envelope is the JSON wire format shared by every participant.
// One struct carries all three variants; the "type" field says which
// of the remaining fields are meaningful.
type Envelope struct {
	Type           string `json:"type"`                      // "Order" | "Confirmation" | "AdminMessage"
	TeamName       string `json:"team_name,omitempty"`       // Order, Confirmation
	EquipmentType  string `json:"equipment_type,omitempty"`  // Order, Confirmation
	OrderNumber    int    `json:"order_number,omitempty"`    // 0 until a supplier assigns it
	SupplierName   string `json:"supplier_name,omitempty"`   // Confirmation (and a processed Order)
	Content        string `json:"content,omitempty"`         // AdminMessage
	RecipientGroup string `json:"recipient_group,omitempty"` // "TEAMS" | "SUPPLIERS" | "ALL"
}
