package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	id1, err := p.Publish(ctx, "detections", map[string]any{"url": "https://a.example", "hasPrebid": true})
	require.NoError(t, err)
	id2, err := p.Publish(ctx, "detections", map[string]any{"url": "https://b.example", "hasPrebid": false})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "detections", msgs[0].Topic)

	var payload struct {
		URL       string `json:"url"`
		HasPrebid bool   `json:"hasPrebid"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	require.Equal(t, "https://a.example", payload.URL)
	require.True(t, payload.HasPrebid)
}

func TestPublisher_RejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "detections", func() {})
	require.Error(t, err)
	require.Empty(t, p.Messages())
}
