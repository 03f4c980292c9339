package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BytesmeSearch/internal/backend"
	"BytesmeSearch/internal/session"
)

func product(id string) Chunk {
	return Chunk{Kind: ChunkProduct, Product: session.ProductAttachment{ProductID: id, Name: "product " + id}}
}

func TestAccumulatorFoldsChunks(t *testing.T) {
	s := session.NewSearchSession()
	acc := NewAccumulator()

	acc.Apply(Chunk{Kind: ChunkThinking, Text: "Đang tìm bánh"}, s)
	acc.Apply(Chunk{Kind: ChunkThinking, Text: "Lọc theo socola"}, s)

	snap := acc.Snapshot()
	assert.Equal(t, "Đang tìm bánh\nLọc theo socola", snap.ThinkingText)
	assert.True(t, snap.IsThinking)

	acc.Apply(Chunk{Kind: ChunkAnswer, Text: "Đây là "}, s)
	acc.Apply(Chunk{Kind: ChunkAnswer, Text: "một vài gợi ý"}, s)
	acc.Apply(product("p1"), s)
	acc.Apply(product("p2"), s)
	acc.Apply(product("p1"), s)
	acc.Apply(Chunk{Kind: ChunkSessionID, SessionID: "s1"}, s)

	snap = acc.Snapshot()
	assert.Equal(t, "Đây là một vài gợi ý", snap.AnswerText)
	assert.False(t, snap.IsThinking)
	require.Len(t, snap.Products, 3)
	assert.Equal(t, []string{"p1", "p2", "p1"}, productIDs(snap.Products))
	assert.Equal(t, 8, acc.Chunks())

	id, ok := s.SessionID()
	require.True(t, ok)
	assert.Equal(t, "s1", id)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	turn := acc.Freeze(now)
	assert.Equal(t, "Đây là một vài gợi ý", turn.AnswerText)
	assert.Equal(t, now, turn.CompletedAt)
	assert.Equal(t, []string{"p1", "p2", "p1"}, productIDs(turn.Products()))
}

func TestAccumulatorFreezeIsDetached(t *testing.T) {
	rating := 4.5
	acc := NewAccumulator()
	acc.Apply(Chunk{Kind: ChunkProduct, Product: session.ProductAttachment{
		ProductID:      "p1",
		SizePriceTable: []backend.SizePrice{{Size: "S", Price: 35000}},
		Rating:         &rating,
	}}, nil)

	snap := acc.Snapshot()
	snap.Products[0].SizePriceTable[0].Price = 1
	*snap.Products[0].Rating = 0

	turn := acc.Freeze(time.Now())

	acc.Apply(product("p2"), nil)
	acc.Apply(Chunk{Kind: ChunkAnswer, Text: "late"}, nil)
	got := turn.Products()
	got[0].SizePriceTable[0].Price = 2

	published := turn.Products()
	assert.Equal(t, []string{"p1"}, productIDs(published))
	assert.Equal(t, "", turn.AnswerText)
	assert.Equal(t, 35000.0, published[0].SizePriceTable[0].Price)
	require.NotNil(t, published[0].Rating)
	assert.Equal(t, 4.5, *published[0].Rating)
}

func TestAccumulatorSessionIDOverwrite(t *testing.T) {
	s := session.NewSearchSession()
	s.SetSessionID("abc")
	NewAccumulator().Apply(Chunk{Kind: ChunkSessionID, SessionID: "xyz"}, s)

	id, _ := s.SessionID()
	assert.Equal(t, "xyz", id)
}

func productIDs(products []session.ProductAttachment) []string {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ProductID
	}
	return ids
}
