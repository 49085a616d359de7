package emailaddr

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercases", in: "  Buyer@Example.COM ", want: "buyer@example.com"},
		{name: "plus tag kept", in: "buyer+quiz@example.com", want: "buyer+quiz@example.com"},
		{name: "trailing dot stripped", in: "buyer@example.com.", want: "buyer@example.com"},
		{name: "empty", in: "   ", wantErr: true},
		{name: "no at", in: "buyer.example.com", wantErr: true},
		{name: "two ats", in: "a@b@example.com", wantErr: true},
		{name: "display name", in: "Buyer <buyer@example.com>", wantErr: true},
		{name: "bad local part", in: ".buyer@example.com", wantErr: true},
		{name: "bare host", in: "buyer@localhost", wantErr: true},
		{name: "url as domain", in: "buyer@https://example.com", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("canonicalize %q: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("canonicalize %q = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
