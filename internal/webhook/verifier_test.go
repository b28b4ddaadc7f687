package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	payload := []byte(`{"external_id":"MTN-0123456789AB","status":"SUCCESSFUL"}`)
	secret := "whsec_test"
	sig := Sign(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{name: "valid", payload: payload, signature: sig, secret: secret, want: true},
		{name: "prefixed", payload: payload, signature: "sha256=" + sig, secret: secret, want: true},
		{name: "uppercase hex", payload: payload, signature: strings.ToUpper(sig), secret: secret, want: true},
		{name: "garbage", payload: payload, signature: "garbage", secret: secret, want: false},
		{name: "wrong secret", payload: payload, signature: sig, secret: "other", want: false},
		{name: "tampered payload", payload: append([]byte(nil), append(payload, ' ')...), signature: sig, secret: secret, want: false},
		{name: "empty signature", payload: payload, signature: "", secret: secret, want: false},
		{name: "empty secret", payload: payload, signature: sig, secret: "", want: false},
		{name: "truncated", payload: payload, signature: sig[:10], secret: secret, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.payload, tt.signature, tt.secret))
		})
	}
}
