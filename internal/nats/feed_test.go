package nats

import (
	"testing"
)

func TestChangeSubject(t *testing.T) {
	tests := []struct {
		name  string
		table string
		scope string
		want  string
	}{
		{"conversation scope", "conversations", "op-1", "inbox.chg.conversations.op-1"},
		{"message scope", "messages", "conv-9", "inbox.chg.messages.conv-9"},
		{"dots sanitized", "messages", "a.b.c", "inbox.chg.messages.a_b_c"},
		{"wildcards sanitized", "messages", "a>*", "inbox.chg.messages.a__"},
		{"spaces sanitized", "conversations", "op 1", "inbox.chg.conversations.op_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChangeSubject(tt.table, tt.scope); got != tt.want {
				t.Errorf("ChangeSubject(%q, %q) = %q, want %q", tt.table, tt.scope, got, tt.want)
			}
		})
	}
}
