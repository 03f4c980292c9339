package backend

import "encoding/json"

// Chunk type discriminators sent by the search backend
const (
	ChunkThinking  = "thinking"
	ChunkAnswer    = "answer"
	ChunkProduct   = "product"
	ChunkSessionID = "session_id"
	ChunkError     = "error"
)

// DoneMarker is the literal out-of-band message that ends a streamed turn
const DoneMarker = "[DONE]"

// ChunkEnvelope is one inbound message of a streamed search
type ChunkEnvelope struct {
	Type      string          `json:"type"`
	Chunk     *string         `json:"chunk,omitempty"`      // thinking, answer
	Data      json.RawMessage `json:"data,omitempty"`       // product
	SessionID *string         `json:"session_id,omitempty"` // session_id
	Message   string          `json:"message,omitempty"`    // error
}

// SizePrice is one row of a product's size/price table
type SizePrice struct {
	Size  string  `json:"size"`
	Price float64 `json:"price"`
}

// ProductPayload is the product attachment as sent inline by the stream
type ProductPayload struct {
	ProductID       string      `json:"product_id"`
	Name            string      `json:"product_name"`
	Category        string      `json:"category_name"`
	Image           string      `json:"product_image"`
	SizePrices      []SizePrice `json:"size_prices"`
	Rating          *float64    `json:"rating,omitempty"`
	OrderCount      *int        `json:"order_count,omitempty"`
	DiscountPercent *float64    `json:"discount_percent,omitempty"`
}

// ProductDetailResponse represents the response from the product detail endpoint
type ProductDetailResponse struct {
	Product     ProductPayload `json:"product"`
	Description string         `json:"description"`
	Categories  []string       `json:"categories"`
}
