package ipmatch

import "testing"

func TestIPAllowed(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		ip      string
		want    bool
	}{
		{"empty list allows", nil, "203.0.113.9", true},
		{"exact", []string{"203.0.113.9"}, "203.0.113.9", true},
		{"exact mismatch", []string{"203.0.113.9"}, "203.0.113.10", false},
		{"cidr", []string{"10.0.0.0/8"}, "10.20.30.40", true},
		{"cidr outside", []string{"10.0.0.0/8"}, "11.0.0.1", false},
		{"cidr is not a string prefix", []string{"192.168.1.0/24"}, "192.168.10.5", false},
		{"unmasked cidr", []string{"192.168.1.77/24"}, "192.168.1.5", true},
		{"glob", []string{"172.16.*.*"}, "172.16.4.2", true},
		{"glob mismatch", []string{"172.16.*.*"}, "172.17.4.2", false},
		{"ipv6 cidr", []string{"2001:db8::/32"}, "2001:db8::1", true},
		{"mapped v4", []string{"198.51.100.7"}, "::ffff:198.51.100.7", true},
		{"garbage caller", []string{"10.0.0.0/8"}, "not-an-ip", false},
		{"garbage entry skipped", []string{"nonsense", "10.0.0.1"}, "10.0.0.1", true},
	}
	for _, tc := range cases {
		if got := IPAllowed(tc.allowed, tc.ip); got != tc.want {
			t.Fatalf("%s: IPAllowed(%v, %q)=%v want %v", tc.name, tc.allowed, tc.ip, got, tc.want)
		}
	}
}

func TestDomainAllowed(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://evil.test", true},
		{[]string{"app.example.com"}, "https://APP.example.com:8443", true},
		{[]string{"app.example.com"}, "app.example.com", true},
		{[]string{"*.example.com"}, "https://api.example.com", true},
		{[]string{"*.example.com"}, "https://example.com", false},
		{[]string{"*.example.com"}, "https://example.com.evil.test", false},
		{[]string{"app.example.com"}, "", false},
	}
	for _, tc := range cases {
		if got := DomainAllowed(tc.allowed, tc.origin); got != tc.want {
			t.Fatalf("DomainAllowed(%v, %q)=%v want %v", tc.allowed, tc.origin, got, tc.want)
		}
	}
}
