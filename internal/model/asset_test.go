package model

import "testing"

func TestFormatAssetTag(t *testing.T) {
	tests := []struct {
		prefix string
		seq    int
		want   string
	}{
		{"ARD-UNO", 1, "ARD-UNO-0001"},
		{"ARD-UNO", 42, "ARD-UNO-0042"},
		{"RPI4", 9999, "RPI4-9999"},
		{"RPI4", 10000, "RPI4-10000"},
	}
	for _, tt := range tests {
		if got := FormatAssetTag(tt.prefix, tt.seq); got != tt.want {
			t.Errorf("FormatAssetTag(%q, %d) = %q, want %q", tt.prefix, tt.seq, got, tt.want)
		}
	}
}

func TestParseAssetTag(t *testing.T) {
	prefix, seq, err := ParseAssetTag("ARD-UNO-0042")
	if err != nil {
		t.Fatalf("ParseAssetTag: %v", err)
	}
	if prefix != "ARD-UNO" || seq != 42 {
		t.Errorf("got (%q, %d), want (ARD-UNO, 42)", prefix, seq)
	}
}

func TestParseAssetTagMalformed(t *testing.T) {
	for _, tag := range []string{"", "UNO", "UNO-", "-0001", "UNO-01", "UNO-abcd", "UNO-00001"} {
		if _, _, err := ParseAssetTag(tag); err == nil {
			t.Errorf("ParseAssetTag(%q): expected error", tag)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleAtLeast(RoleAdmin, RoleIncharge) {
		t.Error("admin should satisfy incharge")
	}
	if RoleAtLeast(RoleStudent, RoleIncharge) {
		t.Error("student should not satisfy incharge")
	}
	if !RoleAtLeast(RoleIncharge, RoleIncharge) {
		t.Error("role should satisfy itself")
	}
}

func TestLineOutstanding(t *testing.T) {
	l := TransactionLine{IssuedQuantity: 5, ReturnedQuantity: 2, DamagedQuantity: 1}
	if got := l.Outstanding(); got != 2 {
		t.Errorf("Outstanding() = %d, want 2", got)
	}
}
