package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterEventEmbedsFrameVerbatim(t *testing.T) {
	frame := []byte(`{"kind":"message","role":"bot","text":"hola"}`)

	var decoded clusterEvent
	require.NoError(t, json.Unmarshal(encodeClusterEvent("conv-1", frame), &decoded))

	assert.Equal(t, "conv-1", decoded.TargetConversationID)
	// The frame must arrive as the JSON object itself, not as a
	// base64-encoded string, or peer-instance widgets cannot parse it.
	assert.Equal(t, string(frame), string(decoded.Message))

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(decoded.Message, &event))
	assert.Equal(t, "message", event["kind"])
}

func TestClusterEventBroadcastWildcard(t *testing.T) {
	frame := []byte(`{"kind":"clear_options"}`)

	var decoded clusterEvent
	require.NoError(t, json.Unmarshal(encodeClusterEvent("*", frame), &decoded))

	assert.Equal(t, "*", decoded.TargetConversationID)
	assert.Equal(t, string(frame), string(decoded.Message))
}
