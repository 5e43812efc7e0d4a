package ipmatch

import "testing"

func TestMatchesAllowAll(t *testing.T) {
	for _, pattern := range []string{"*", "0.0.0.0/0"} {
		if !Matches("203.0.113.9", pattern) {
			t.Errorf("Matches(203.0.113.9, %q) = false, want true", pattern)
		}
		if !Matches("garbage", pattern) {
			t.Errorf("Matches(garbage, %q) = false, want true", pattern)
		}
	}
}

func TestMatchesExact(t *testing.T) {
	if !Matches("192.168.1.50", "192.168.1.50") {
		t.Error("exact match failed")
	}
	if Matches("192.168.1.51", "192.168.1.50") {
		t.Error("unexpected exact match")
	}
}

func TestMatchesWildcard(t *testing.T) {
	tests := []struct {
		ip      string
		pattern string
		want    bool
	}{
		{"192.168.1.50", "192.168.1.*", true},
		{"192.168.2.50", "192.168.1.*", false},
		{"192.168.1.50", "192.168.*", true},
		{"10.0.0.5", "10.0.0.?", true},
		{"10.0.0.55", "10.0.0.?", false},
		{"10.0.0.5", "10.?.0.5", true},
	}
	for _, tt := range tests {
		if got := Matches(tt.ip, tt.pattern); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.ip, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchesCIDR(t *testing.T) {
	tests := []struct {
		ip      string
		pattern string
		want    bool
	}{
		{"10.0.0.5", "10.0.0.0/24", true},
		{"10.0.1.5", "10.0.0.0/24", false},
		{"10.0.1.5", "10.0.0.0/16", true},
		{"10.1.0.5", "10.0.0.0/16", false},
		{"172.16.5.5", "172.16.0.0/12", true},
		{"192.168.1.1", "192.168.1.1/32", true},
		{"192.168.1.2", "192.168.1.1/32", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.ip, tt.pattern); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.ip, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchesMalformedPatternsFailClosed(t *testing.T) {
	patterns := []string{
		"10.0.0.0/33",
		"10.0.0.0/-1",
		"10.0.0.0/abc",
		"not-an-ip/24",
		"999.999.999.999",
		"",
	}
	for _, pattern := range patterns {
		if Matches("10.0.0.5", pattern) {
			t.Errorf("Matches(10.0.0.5, %q) = true, want false for malformed pattern", pattern)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	valid := []string{
		"*",
		"0.0.0.0/0",
		"192.168.1.50",
		"192.168.1.*",
		"10.0.?.1",
		"10.0.0.0/24",
		"172.16.0.0/12",
	}
	for _, p := range valid {
		if err := ValidatePattern(p); err != nil {
			t.Errorf("ValidatePattern(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{
		"",
		"10.0.0.0/33",
		"10.0.0.0/x",
		"not-an-ip/24",
		"abc.def.1.2",
		"300.*.1.1",
		"1.2.3.4.5",
		"192.168..1",
		"hostname",
	}
	for _, p := range invalid {
		if err := ValidatePattern(p); err == nil {
			t.Errorf("ValidatePattern(%q) = nil, want error", p)
		}
	}
}
