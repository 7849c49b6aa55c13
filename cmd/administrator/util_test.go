package administrator

import (
	"testing"

	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line        string
		wantGroup   message.Group
		wantContent string
		wantErr     bool
	}{
		{line: "teams Storm expected tomorrow", wantGroup: message.GroupTeams, wantContent: "Storm expected tomorrow"},
		{line: "  SUPPLIERS   restock oxygen ", wantGroup: message.GroupSuppliers, wantContent: "restock oxygen"},
		{line: "all", wantGroup: message.GroupAll},
		{line: "crew hello", wantErr: true},
		{line: "", wantErr: true},
	}
	for _, tt := range tests {
		group, content, err := parseCommand(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if group != tt.wantGroup || content != tt.wantContent {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.line, group, content, tt.wantGroup, tt.wantContent)
		}
	}
}
