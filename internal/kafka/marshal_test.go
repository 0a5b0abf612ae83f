package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

func TestUnwrapPayload(t *testing.T) {
	raw := MustMarshal(samplePayload{OrderID: "o1", Qty: 3})

	p, err := UnwrapPayload[samplePayload](json.RawMessage(raw))

	require.NoError(t, err)
	assert.Equal(t, "o1", p.OrderID)
	assert.Equal(t, 3, p.Qty)

	_, err = UnwrapPayload[samplePayload](json.RawMessage(`{broken`))
	require.Error(t, err)
}
