package parsing

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseCOSESign1(t *testing.T) {
	raw, err := cbor.Marshal([]any{[]byte{0xa1}, map[any]any{}, []byte("payload"), []byte("sig")})
	assert.NoError(t, err)

	msg, err := ParseCOSESign1(raw)
	assert.NoError(t, err)
	check.Equal(t, []byte{0xa1}, msg.Protected)
	check.Equal(t, []byte("payload"), msg.Payload)
	check.Equal(t, []byte("sig"), msg.Signature)

	payload, err := ExtractCOSEPayload(raw)
	assert.NoError(t, err)
	check.Equal(t, "payload", string(payload))
}

func TestParseCOSESign1_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"not an array", "text", "parse COSE array"},
		{"three elements", []any{[]byte{}, []byte{}, []byte{}}, "expected 4 elements, got 3"},
		{"protected not bytes", []any{"x", map[any]any{}, []byte{}, []byte{}}, "invalid protected headers"},
		{"payload not bytes", []any{[]byte{}, map[any]any{}, 7, []byte{}}, "invalid payload"},
		{"signature not bytes", []any{[]byte{}, map[any]any{}, []byte{}, nil}, "invalid signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := cbor.Marshal(tt.value)
			assert.NoError(t, err)
			_, err = ParseCOSESign1(raw)
			check.Error(t, err)
			if err != nil {
				check.True(t, strings.Contains(err.Error(), tt.want))
			}
		})
	}
}

func TestFormatPCRAndBundle(t *testing.T) {
	check.Equal(t, "", FormatPCR(nil))
	check.Equal(t, "00ff", FormatPCR([]byte{0x00, 0xff}))
	check.Equal(t, []string{"AQI=", ""}, EncodeCertificateBundle([][]byte{{1, 2}, {}}))
}
