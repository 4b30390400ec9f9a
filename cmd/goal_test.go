package cmd

import "testing"

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1500", 150000, false},
		{"1500.50", 150050, false},
		{"1,500.50", 150050, false},
		{"0", 0, false},
		{"0.01", 1, false},
		{".5", 50, false},
		{"5.", 500, false},
		{"  12  ", 1200, false},
		{"-5.25", -525, false},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"12.x", 0, true},
		{"", 0, true},
		{"   ", 0, true},
	}

	for _, tt := range tests {
		got, err := parseMoney(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMoney(%q) = %d, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMoney(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMoney(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
