package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSessionId(t *testing.T) {
	valid := []string{
		"a1b2c3d4-1111-4222-8333-abcdefabcdef",
		"A1B2C3D4-1111-4222-9333-ABCDEFABCDEF",
		"00000000-0000-1000-a000-000000000000",
	}
	for _, id := range valid {
		assert.True(t, ValidSessionId(id), id)
	}

	invalid := []string{
		"",
		"not-a-uuid",
		"a1b2c3d4-1111-4222-8333-abcdefabcde",    // too short
		"a1b2c3d4-1111-4222-8333-abcdefabcdef0",  // too long
		"a1b2c3d4-1111-6222-8333-abcdefabcdef",   // bad version nibble
		"a1b2c3d4-1111-4222-c333-abcdefabcdef",   // bad variant nibble
		"g1b2c3d4-1111-4222-8333-abcdefabcdef",   // non-hex
		"a1b2c3d4 1111 4222 8333 abcdefabcdef",   // wrong separators
	}
	for _, id := range invalid {
		assert.False(t, ValidSessionId(id), id)
	}
}

func TestClassifyConnectError(t *testing.T) {
	cases := map[string]ErrorKind{
		"websocket: bad handshake (HTTP 404)": ErrKindNotFound,
		"dial tcp: lookup hub: no such host":  ErrKindNotFound,
		"read tcp: i/o timeout":               ErrKindTimeout,
		"invalid upgrade response":            ErrKindInvalidParams,
		"connection refused":                  ErrKindGeneric,
	}
	for msg, kind := range cases {
		got := classifyConnectError(errString(msg))
		assert.Equal(t, kind, got.Kind, msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
