package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job handles one message type. The payload handed to Handle is the
// message's raw JSON; decode it with ParsePayload.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// Coalescer is implemented by payloads that should be enqueued at most once
// while an equal message is still waiting.
type Coalescer interface {
	CoalesceKey() string
}

// ParsePayload decodes a job payload into T. It accepts raw JSON, a T or
// *T, and any JSON-encodable value such as a decoded map.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload %T: %w", payload, err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload into %T: %w", out, err)
	}
	return &out, nil
}
