package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDoneMarker(t *testing.T) {
	for _, raw := range []string{"[DONE]", " [DONE]\n"} {
		c, err := Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, ChunkDone, c.Kind)
	}
}

func TestDecodeTextChunks(t *testing.T) {
	c, err := Decode([]byte(`{"type":"thinking","chunk":"đang tìm..."}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkThinking, c.Kind)
	assert.Equal(t, "đang tìm...", c.Text)

	c, err = Decode([]byte(`{"type":"answer","chunk":""}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkAnswer, c.Kind)
	assert.Equal(t, "", c.Text)
}

func TestDecodeProduct(t *testing.T) {
	raw := `{"type":"product","data":{"product_id":"42","product_name":"Bánh socola","category_name":"Cake",
		"product_image":"img/42.png","size_prices":[{"size":"S","price":35000},{"size":"L","price":60000}],
		"rating":4.8,"order_count":120}}`
	c, err := Decode([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, ChunkProduct, c.Kind)

	p := c.Product
	assert.Equal(t, "42", p.ProductID)
	assert.Equal(t, "Bánh socola", p.Name)
	assert.Equal(t, "Cake", p.Category)
	assert.Equal(t, "img/42.png", p.ImageRef)
	require.Len(t, p.SizePriceTable, 2)
	assert.Equal(t, "L", p.SizePriceTable[1].Size)
	require.NotNil(t, p.Rating)
	assert.Equal(t, 4.8, *p.Rating)
	require.NotNil(t, p.OrderCount)
	assert.Equal(t, 120, *p.OrderCount)
	assert.Nil(t, p.DiscountPercent)
}

func TestDecodeSessionIDAndError(t *testing.T) {
	c, err := Decode([]byte(`{"type":"session_id","session_id":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkSessionID, c.Kind)
	assert.Equal(t, "s1", c.SessionID)

	c, err = Decode([]byte(`{"type":"error","message":"backend unavailable"}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkError, c.Kind)
	assert.Equal(t, "backend unavailable", c.Cause)
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]string{
		"not json":          `hello`,
		"missing type":      `{"chunk":"x"}`,
		"unknown type":      `{"type":"banner","chunk":"x"}`,
		"thinking no text":  `{"type":"thinking"}`,
		"product no data":   `{"type":"product"}`,
		"product null data": `{"type":"product","data":null}`,
		"product bad data":  `{"type":"product","data":"oops"}`,
		"empty session id":  `{"type":"session_id","session_id":""}`,
		"type not a string": `{"type":5}`,
		"done inside json":  `{"type":"[DONE]"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, raw, string(decErr.Raw))
		})
	}
}
