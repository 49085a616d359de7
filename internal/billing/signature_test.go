package billing

import (
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"meta":{"event_name":"subscription_created"}}`)
	secret := []byte("whsec_test")
	valid := Sign(body, secret)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret []byte
		want   bool
	}{
		{name: "valid", body: body, header: valid, secret: secret, want: true},
		{name: "uppercase hex", body: body, header: strings.ToUpper(valid), secret: secret, want: true},
		{name: "surrounding whitespace", body: body, header: " " + valid + "\n", secret: secret, want: true},
		{name: "missing header", body: body, header: "", secret: secret, want: false},
		{name: "malformed hex", body: body, header: "zz" + valid[2:], secret: secret, want: false},
		{name: "short digest", body: body, header: valid[:32], secret: secret, want: false},
		{name: "empty secret", body: body, header: valid, secret: nil, want: false},
		{name: "wrong secret", body: body, header: valid, secret: []byte("other"), want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := Verify(tc.body, tc.header, tc.secret); got != tc.want {
				t.Fatalf("Verify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyRejectsAnySingleByteChange(t *testing.T) {
	body := []byte(`{"meta":{"event_name":"subscription_created","custom_data":{"user_id":"u1"}},"data":{"id":"1"}}`)
	secret := []byte("whsec_test")
	header := Sign(body, secret)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		if Verify(tampered, header, secret) {
			t.Fatalf("tampered byte %d still verified", i)
		}
	}
}
