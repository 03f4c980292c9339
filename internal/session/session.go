package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"BytesmeSearch/internal/backend"
)

// ProductAttachment is a recommended product attached to an assistant turn
type ProductAttachment struct {
	ProductID       string              `json:"product_id"`
	Name            string              `json:"name"`
	Category        string              `json:"category"`
	ImageRef        string              `json:"image_ref"`
	SizePriceTable  []backend.SizePrice `json:"size_price_table"`
	Rating          *float64            `json:"rating,omitempty"`
	OrderCount      *int                `json:"order_count,omitempty"`
	DiscountPercent *float64            `json:"discount_percent,omitempty"`
}

// AttachmentFromPayload converts the wire product into an attachment, copying every slice and pointer
func AttachmentFromPayload(p backend.ProductPayload) ProductAttachment {
	return ProductAttachment{
		ProductID:       p.ProductID,
		Name:            p.Name,
		Category:        p.Category,
		ImageRef:        p.Image,
		SizePriceTable:  p.SizePrices,
		Rating:          p.Rating,
		OrderCount:      p.OrderCount,
		DiscountPercent: p.DiscountPercent,
	}.Clone()
}

// Clone returns a deep copy that shares no slice or pointer with p
func (p ProductAttachment) Clone() ProductAttachment {
	if p.SizePriceTable != nil {
		p.SizePriceTable = append([]backend.SizePrice(nil), p.SizePriceTable...)
	}
	p.Rating = clonePtr(p.Rating)
	p.OrderCount = clonePtr(p.OrderCount)
	p.DiscountPercent = clonePtr(p.DiscountPercent)
	return p
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CloneProducts deep-copies a product list; the result is never nil
func CloneProducts(in []ProductAttachment) []ProductAttachment {
	out := make([]ProductAttachment, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// TurnKind discriminates the two turn variants
type TurnKind string

const (
	KindUser      TurnKind = "user"
	KindAssistant TurnKind = "assistant"
)

// Turn is one entry of the conversation history.
// Implemented by UserTurn and AssistantTurn only.
type Turn interface {
	Kind() TurnKind
	Time() time.Time
}

// UserTurn is created synchronously when a query is submitted
type UserTurn struct {
	Text     string
	IssuedAt time.Time
}

func (UserTurn) Kind() TurnKind    { return KindUser }
func (t UserTurn) Time() time.Time { return t.IssuedAt }

// AssistantTurn is a finished streamed answer. Never mutated after it is appended.
type AssistantTurn struct {
	AnswerText  string
	products    []ProductAttachment
	CompletedAt time.Time
}

// NewAssistantTurn freezes the given products into a new turn
func NewAssistantTurn(answer string, products []ProductAttachment, completedAt time.Time) AssistantTurn {
	return AssistantTurn{
		AnswerText:  answer,
		products:    CloneProducts(products),
		CompletedAt: completedAt,
	}
}

func (AssistantTurn) Kind() TurnKind    { return KindAssistant }
func (t AssistantTurn) Time() time.Time { return t.CompletedAt }

// Products returns a deep copy of the attached products in arrival order
func (t AssistantTurn) Products() []ProductAttachment {
	return CloneProducts(t.products)
}

// PendingSnapshot is a read-only view of the in-flight turn
type PendingSnapshot struct {
	ThinkingText string
	AnswerText   string
	Products     []ProductAttachment
	IsThinking   bool
}

// History is the ordered, append-only list of turns of one search session
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append adds a turn at the end of the history
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Turns returns a copy of the turns in chronological order
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

func (h *History) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// SearchSession holds the server continuation token and the conversation history
// of one search screen visit.
type SearchSession struct {
	mu        sync.RWMutex
	id        string
	sessionID string
	startTime time.Time
	History   History
}

// NewSearchSession creates an empty session
func NewSearchSession() *SearchSession {
	return &SearchSession{id: uuid.New().String(), startTime: time.Now()}
}

// ID returns the local conversation id used by the archive; it changes on every Reset
func (s *SearchSession) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SessionID returns the server-issued continuation token, if any
func (s *SearchSession) SessionID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID, s.sessionID != ""
}

// StartTime returns when the session was created or last reset
func (s *SearchSession) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTime
}

// SetSessionID records the token issued by the server; a later token replaces an earlier one
func (s *SearchSession) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// Conversation is a point-in-time copy of a search session
type Conversation struct {
	ID              string
	ServerSessionID string
	StartTime       time.Time
	Turns           []Turn
}

// Snapshot captures the session as it is now; later turns or a Reset do not affect the result
func (s *SearchSession) Snapshot() Conversation {
	s.mu.RLock()
	conv := Conversation{ID: s.id, ServerSessionID: s.sessionID, StartTime: s.startTime}
	s.mu.RUnlock()
	conv.Turns = s.History.Turns()
	return conv
}

// Reset discards the session id and clears the history
func (s *SearchSession) Reset() {
	s.mu.Lock()
	s.id = uuid.New().String()
	s.sessionID = ""
	s.startTime = time.Now()
	s.mu.Unlock()
	s.History.clear()
}
