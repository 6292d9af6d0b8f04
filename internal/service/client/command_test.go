package client

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

// TestFormatEvent renders an event on one line.
func TestFormatEvent(t *testing.T) {
	t.Parallel()

	event, err := structpb.NewStruct(map[string]any{
		"record":    "tank:level",
		"field":     "VAL",
		"value":     42.5,
		"kind":      "value|archive",
		"status":    "HIGH",
		"severity":  "MINOR",
		"timestamp": "2026-05-01T00:00:00Z",
	})
	require.NoError(t, err)

	require.Equal(t, "2026-05-01T00:00:00Z tank:level.VAL = 42.5 [value|archive] HIGH/MINOR", formatEvent(event))
}
