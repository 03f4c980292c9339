package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"BytesmeSearch/internal/backend"
	"BytesmeSearch/internal/session"
)

// ChunkKind identifies the variant of a decoded Chunk
type ChunkKind int

const (
	ChunkThinking ChunkKind = iota + 1
	ChunkAnswer
	ChunkProduct
	ChunkSessionID
	ChunkError
	ChunkDone // terminal sentinel
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkThinking:
		return backend.ChunkThinking
	case ChunkAnswer:
		return backend.ChunkAnswer
	case ChunkProduct:
		return backend.ChunkProduct
	case ChunkSessionID:
		return backend.ChunkSessionID
	case ChunkError:
		return backend.ChunkError
	case ChunkDone:
		return "done"
	default:
		return fmt.Sprintf("ChunkKind(%d)", int(k))
	}
}

// Chunk is one decoded message of a streamed turn. Only the field matching Kind is set.
type Chunk struct {
	Kind      ChunkKind
	Text      string                    // thinking, answer
	Product   session.ProductAttachment // product
	SessionID string                    // session id
	Cause     string                    // error
}

// DecodeError reports a single message that could not be decoded
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode chunk (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(raw []byte, format string, args ...any) error {
	return &DecodeError{Raw: raw, Err: fmt.Errorf(format, args...)}
}

// Decode turns one raw message into a Chunk.
// The done marker is checked before any JSON parsing.
func Decode(raw []byte) (Chunk, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == backend.DoneMarker {
		return Chunk{Kind: ChunkDone}, nil
	}

	var env backend.ChunkEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Chunk{}, &DecodeError{Raw: raw, Err: err}
	}

	switch env.Type {
	case backend.ChunkThinking, backend.ChunkAnswer:
		if env.Chunk == nil {
			return Chunk{}, decodeErr(raw, "%s chunk without text", env.Type)
		}
		kind := ChunkThinking
		if env.Type == backend.ChunkAnswer {
			kind = ChunkAnswer
		}
		return Chunk{Kind: kind, Text: *env.Chunk}, nil

	case backend.ChunkProduct:
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return Chunk{}, decodeErr(raw, "product chunk without data")
		}
		var p backend.ProductPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Chunk{}, &DecodeError{Raw: raw, Err: fmt.Errorf("invalid product data: %w", err)}
		}
		return Chunk{Kind: ChunkProduct, Product: session.AttachmentFromPayload(p)}, nil

	case backend.ChunkSessionID:
		if env.SessionID == nil || *env.SessionID == "" {
			return Chunk{}, decodeErr(raw, "session_id chunk without token")
		}
		return Chunk{Kind: ChunkSessionID, SessionID: *env.SessionID}, nil

	case backend.ChunkError:
		return Chunk{Kind: ChunkError, Cause: env.Message}, nil

	case "":
		return Chunk{}, decodeErr(raw, "missing type")

	default:
		return Chunk{}, decodeErr(raw, "unknown chunk type %q", env.Type)
	}
}
