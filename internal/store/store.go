package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"BytesmeSearch/internal/session"
)

// ErrNotFound is returned by Load for an unknown conversation id
var ErrNotFound = errors.New("conversation not found")

// Conversation is an archived search conversation
type Conversation = session.Conversation

// Summary is one row of the archive listing
type Summary struct {
	ID              string
	ServerSessionID string
	StartTime       time.Time
	TurnCount       int
	FirstQuery      string
}

// Store archives completed conversations in sqlite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// New wraps an initialized database
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Store{db: db, logger: logger}, nil
}

// Save writes a conversation, replacing any earlier copy with the same id
func (s *Store) Save(ctx context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO conversations (id, server_session_id, start_time) VALUES (?, ?, ?)",
		conv.ID, conv.ServerSessionID, conv.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM turn_products WHERE turn_id IN (SELECT id FROM turns WHERE conversation_id = ?)", conv.ID,
	); err != nil {
		return fmt.Errorf("failed to clear products: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE conversation_id = ?", conv.ID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	for pos, turn := range conv.Turns {
		if err := saveTurn(ctx, tx, conv.ID, pos, turn); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("conversation saved", "conversation_id", conv.ID, "turn_count", len(conv.Turns))
	return nil
}

func saveTurn(ctx context.Context, tx *sql.Tx, conversationID string, pos int, turn session.Turn) error {
	var text string
	var products []session.ProductAttachment
	switch t := turn.(type) {
	case session.UserTurn:
		text = t.Text
	case session.AssistantTurn:
		text = t.AnswerText
		products = t.Products()
	default:
		return fmt.Errorf("unknown turn type %T", turn)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO turns (conversation_id, position, kind, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		conversationID, pos, string(turn.Kind()), text, turn.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	turnID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read turn id: %w", err)
	}

	for i, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal product: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO turn_products (turn_id, position, product_id, payload) VALUES (?, ?, ?, ?)",
			turnID, i, p.ProductID, string(payload),
		); err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}
	}
	return nil
}

// List returns the most recent conversations first
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.server_session_id, c.start_time,
			(SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id),
			(SELECT t.text FROM turns t WHERE t.conversation_id = c.id AND t.kind = 'user' ORDER BY t.position LIMIT 1)
		FROM conversations c
		ORDER BY c.start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var serverID, firstQuery sql.NullString
		if err := rows.Scan(&sum.ID, &serverID, &sum.StartTime, &sum.TurnCount, &firstQuery); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		sum.ServerSessionID = serverID.String
		sum.FirstQuery = firstQuery.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summaries, nil
}

// Load reads one archived conversation with its turns in order
func (s *Store) Load(ctx context.Context, id string) (Conversation, error) {
	conv := Conversation{ID: id}

	var serverID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT server_session_id, start_time FROM conversations WHERE id = ?", id,
	).Scan(&serverID, &conv.StartTime)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return conv, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.ServerSessionID = serverID.String

	products, err := s.loadProducts(ctx, id)
	if err != nil {
		return conv, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, text, timestamp FROM turns WHERE conversation_id = ? ORDER BY position", id)
	if err != nil {
		return conv, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turnID int64
		var kind, text string
		var ts time.Time
		if err := rows.Scan(&turnID, &kind, &text, &ts); err != nil {
			return conv, fmt.Errorf("failed to scan turn: %w", err)
		}
		switch session.TurnKind(kind) {
		case session.KindUser:
			conv.Turns = append(conv.Turns, session.UserTurn{Text: text, IssuedAt: ts})
		case session.KindAssistant:
			conv.Turns = append(conv.Turns, session.NewAssistantTurn(text, products[turnID], ts))
		default:
			s.logger.Warn("skipping turn of unknown kind", "conversation_id", id, "kind", kind)
		}
	}
	if err := rows.Err(); err != nil {
		return conv, fmt.Errorf("failed to load turns: %w", err)
	}
	return conv, nil
}

func (s *Store) loadProducts(ctx context.Context, conversationID string) (map[int64][]session.ProductAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.turn_id, p.payload
		FROM turn_products p JOIN turns t ON t.id = p.turn_id
		WHERE t.conversation_id = ?
		ORDER BY p.turn_id, p.position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	products := map[int64][]session.ProductAttachment{}
	for rows.Next() {
		var turnID int64
		var payload string
		if err := rows.Scan(&turnID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var p session.ProductAttachment
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to parse product: %w", err)
		}
		products[turnID] = append(products[turnID], p)
	}
	return products, rows.Err()
}
