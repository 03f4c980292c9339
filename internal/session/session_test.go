package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BytesmeSearch/internal/backend"
)

func TestAttachmentFromPayloadCopies(t *testing.T) {
	rating := 4.5
	p := backend.ProductPayload{
		ProductID:  "p1",
		Name:       "Bánh socola",
		SizePrices: []backend.SizePrice{{Size: "S", Price: 35000}},
		Rating:     &rating,
	}
	a := AttachmentFromPayload(p)

	p.SizePrices[0].Price = 1
	*p.Rating = 1

	require.Len(t, a.SizePriceTable, 1)
	assert.Equal(t, 35000.0, a.SizePriceTable[0].Price)
	require.NotNil(t, a.Rating)
	assert.Equal(t, 4.5, *a.Rating)
	assert.Nil(t, a.OrderCount)
}

func TestAssistantTurnIsImmutable(t *testing.T) {
	rating := 4.5
	products := []ProductAttachment{
		{ProductID: "p1", SizePriceTable: []backend.SizePrice{{Size: "S", Price: 35000}}, Rating: &rating},
		{ProductID: "p2"},
	}
	turn := NewAssistantTurn("answer", products, time.Now())

	products[0].ProductID = "changed"
	products[0].SizePriceTable[0].Price = 1
	rating = 0

	got := turn.Products()
	got[1].ProductID = "changed too"
	got[0].SizePriceTable[0].Price = 2
	*got[0].Rating = 1

	again := turn.Products()
	assert.Equal(t, "p1", again[0].ProductID)
	assert.Equal(t, "p2", again[1].ProductID)
	assert.Equal(t, 35000.0, again[0].SizePriceTable[0].Price)
	require.NotNil(t, again[0].Rating)
	assert.Equal(t, 4.5, *again[0].Rating)
	assert.Equal(t, KindAssistant, turn.Kind())
}

func TestProductAttachmentClone(t *testing.T) {
	orders, discount := 12, 10.0
	a := ProductAttachment{
		ProductID:       "p1",
		SizePriceTable:  []backend.SizePrice{{Size: "M", Price: 50000}},
		OrderCount:      &orders,
		DiscountPercent: &discount,
	}
	c := a.Clone()
	*c.OrderCount = 0
	*c.DiscountPercent = 0
	c.SizePriceTable[0].Size = "L"

	assert.Equal(t, 12, *a.OrderCount)
	assert.Equal(t, 10.0, *a.DiscountPercent)
	assert.Equal(t, "M", a.SizePriceTable[0].Size)
	assert.Nil(t, c.Rating)
	assert.NotNil(t, CloneProducts(nil))
}

func TestHistoryAppendOrder(t *testing.T) {
	var h History
	h.Append(UserTurn{Text: "q1"})
	h.Append(NewAssistantTurn("a1", nil, time.Now()))
	h.Append(UserTurn{Text: "q2"})

	turns := h.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "q1", turns[0].(UserTurn).Text)
	assert.Equal(t, "a1", turns[1].(AssistantTurn).AnswerText)
	assert.Equal(t, "q2", turns[2].(UserTurn).Text)

	turns[0] = UserTurn{Text: "mutated"}
	assert.Equal(t, "q1", h.Turns()[0].(UserTurn).Text)
}

func TestSearchSessionReset(t *testing.T) {
	s := NewSearchSession()
	_, ok := s.SessionID()
	assert.False(t, ok)

	s.SetSessionID("abc")
	s.SetSessionID("xyz")
	id, ok := s.SessionID()
	assert.True(t, ok)
	assert.Equal(t, "xyz", id)

	s.History.Append(UserTurn{Text: "q"})
	before := s.ID()
	s.Reset()

	assert.NotEqual(t, before, s.ID())
	_, ok = s.SessionID()
	assert.False(t, ok)
	assert.Equal(t, 0, s.History.Len())
}

func TestSearchSessionSnapshot(t *testing.T) {
	s := NewSearchSession()
	s.SetSessionID("srv-9")
	s.History.Append(UserTurn{Text: "q", IssuedAt: time.Now()})

	conv := s.Snapshot()
	s.Reset()
	s.History.Append(UserTurn{Text: "other"})

	assert.NotEqual(t, s.ID(), conv.ID)
	assert.Equal(t, "srv-9", conv.ServerSessionID)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, "q", conv.Turns[0].(UserTurn).Text)
}
