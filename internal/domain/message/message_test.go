package message

import (
	"errors"
	"strings"
	"testing"
)

func TestConstructors(t *testing.T) {
	order := NewOrder("Team 1", "oxygen")
	if order.Kind != KindOrder || order.TeamName != "Team 1" || order.EquipmentType != "oxygen" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.OrderNumber != 0 || order.SupplierName != "" || order.Content != "" || order.RecipientGroup != "" {
		t.Fatalf("order carries foreign fields: %+v", order)
	}

	conf := NewConfirmation("Team 1", "Supplier 1", 3, "boots")
	want := Message{Kind: KindConfirmation, TeamName: "Team 1", SupplierName: "Supplier 1", OrderNumber: 3, EquipmentType: "boots"}
	if conf != want {
		t.Fatalf("got %+v, want %+v", conf, want)
	}

	admin := NewAdmin("hello", GroupAll)
	if admin != (Message{Kind: KindAdmin, Content: "hello", RecipientGroup: GroupAll}) {
		t.Fatalf("unexpected admin message: %+v", admin)
	}
}

func TestGroupRoutingKey(t *testing.T) {
	tests := []struct {
		group Group
		want  string
	}{
		{GroupTeams, "teams"},
		{GroupSuppliers, "suppliers"},
		{GroupAll, "all"},
		{Group("OTHERS"), ""},
	}
	for _, tt := range tests {
		if got := tt.group.RoutingKey(); got != tt.want {
			t.Errorf("%s.RoutingKey() = %q, want %q", tt.group, got, tt.want)
		}
	}
}

func TestParseGroup(t *testing.T) {
	tests := []struct {
		in      string
		want    Group
		wantErr bool
	}{
		{"teams", GroupTeams, false},
		{"TEAMS", GroupTeams, false},
		{" Suppliers ", GroupSuppliers, false},
		{"all", GroupAll, false},
		{"everyone", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGroup(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGroup(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGroup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr string
	}{
		{name: "order", msg: NewOrder("t", "oxygen")},
		{name: "numbered order", msg: Message{Kind: KindOrder, TeamName: "t", EquipmentType: "oxygen", OrderNumber: 4, SupplierName: "s"}},
		{name: "order without team", msg: NewOrder("", "oxygen"), wantErr: "team_name is required"},
		{name: "order with admin content", msg: Message{Kind: KindOrder, TeamName: "t", EquipmentType: "x", Content: "c"}, wantErr: "admin fields must be empty"},
		{name: "confirmation", msg: NewConfirmation("t", "s", 1, "boots")},
		{name: "unnumbered confirmation", msg: NewConfirmation("t", "s", 0, "boots"), wantErr: "order_number must be assigned"},
		{name: "confirmation without supplier", msg: NewConfirmation("t", "", 2, "boots"), wantErr: "supplier_name is required"},
		{name: "admin", msg: NewAdmin("hi", GroupTeams)},
		{name: "admin with empty content", msg: NewAdmin("", GroupSuppliers)},
		{name: "admin with bad group", msg: NewAdmin("hi", "NOBODY"), wantErr: "unknown recipient_group"},
		{name: "admin with order fields", msg: Message{Kind: KindAdmin, RecipientGroup: GroupAll, TeamName: "t"}, wantErr: "order fields must be empty"},
		{name: "unknown kind", msg: Message{Kind: "Invoice"}, wantErr: "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeDecodeOrder(t *testing.T) {
	body, err := Encode(NewOrder("Team 1", "oxygen"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(body); got != `{"type":"Order","team_name":"Team 1","equipment_type":"oxygen"}` {
		t.Fatalf("unexpected wire form: %s", got)
	}

	msg, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg != NewOrder("Team 1", "oxygen") {
		t.Fatalf("round trip changed the order: %+v", msg)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	if _, err := Encode(NewConfirmation("t", "s", 0, "boots")); err == nil {
		t.Fatal("expected error for unnumbered confirmation")
	}
	if _, err := Encode(Message{}); err == nil {
		t.Fatal("expected error for zero message")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Message
	}{
		{
			name: "order missing optional fields",
			body: `{"type":"Order","team_name":"Team 2","equipment_type":"boots"}`,
			want: NewOrder("Team 2", "boots"),
		},
		{
			name: "order with null supplier",
			body: `{"type":"Order","team_name":"Team 2","equipment_type":"boots","supplier_name":null,"order_number":0}`,
			want: NewOrder("Team 2", "boots"),
		},
		{
			name: "confirmation with extra fields",
			body: `{"type":"Confirmation","team_name":"T","supplier_name":"S","order_number":7,"equipment_type":"backpack","priority":"high"}`,
			want: NewConfirmation("T", "S", 7, "backpack"),
		},
		{
			name: "admin drops order fields",
			body: `{"type":"AdminMessage","content":"hi","recipient_group":"SUPPLIERS","team_name":"stray"}`,
			want: NewAdmin("hi", GroupSuppliers),
		},
		{
			name: "confirmation drops admin fields",
			body: `{"type":"Confirmation","team_name":"T","supplier_name":"S","order_number":1,"equipment_type":"x","content":"stray"}`,
			want: NewConfirmation("T", "S", 1, "x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `oxygen please`},
		{"truncated", `{"type":"Order"`},
		{"missing type", `{"team_name":"T","equipment_type":"x"}`},
		{"unknown type", `{"type":"Invoice","team_name":"T"}`},
		{"wrong field type", `{"type":"Order","team_name":"T","order_number":"one"}`},
		{"negative number", `{"type":"Confirmation","team_name":"T","supplier_name":"S","order_number":-1}`},
		{"bad group", `{"type":"AdminMessage","content":"hi","recipient_group":"EVERYONE"}`},
		{"array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("error = %v, want ErrMalformedMessage", err)
			}
			var me *MalformedError
			if !errors.As(err, &me) || me.Reason == "" {
				t.Fatalf("error %v is not a MalformedError with a reason", err)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{NewOrder("T", "oxygen"), "order for oxygen from T"},
		{Message{Kind: KindOrder, TeamName: "T", EquipmentType: "oxygen", OrderNumber: 2}, "order #2 for oxygen from T"},
		{NewConfirmation("T", "S", 2, "oxygen"), "confirmation #2 for oxygen from S to T"},
		{NewAdmin("hi", GroupAll), "admin message to ALL: hi"},
	}
	for _, tt := range tests {
		if got := tt.msg.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
