package gallery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects the sort order for a page. The two modes carry incompatible
// cursor shapes; a cursor is only ever decoded under the mode that issued it.
type Mode string

const (
	ModeNewest Mode = "newest"
	ModePerson Mode = "person"
)

// Cursor is the decoded continuation point of a page: the sort-key field
// values of the first row not yet delivered.
type Cursor interface {
	cursorMode() Mode
}

type NewestCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

func (NewestCursor) cursorMode() Mode { return ModeNewest }

type PersonCursor struct {
	IsTagged bool `json:"is_tagged"`
	// MinDistance is nil when the cursor row had no qualifying match;
	// nil sorts after every concrete distance.
	MinDistance *float64  `json:"min_distance,omitempty"`
	ID          uuid.UUID `json:"id"`
}

func (PersonCursor) cursorMode() Mode { return ModePerson }

// EncodeCursor serializes a cursor to its opaque wire form,
// base64url over a small JSON object.
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a wire cursor under the given mode. The field set is
// validated structurally: unknown fields (a cursor from the other mode) and
// missing required fields are both rejected with ErrInvalidCursor.
func DecodeCursor(mode Mode, token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	switch mode {
	case ModeNewest:
		var probe struct {
			CreatedAt *time.Time `json:"created_at"`
			ID        *uuid.UUID `json:"id"`
		}
		if err := dec.Decode(&probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		if probe.CreatedAt == nil || probe.ID == nil {
			return nil, fmt.Errorf("%w: missing newest-mode fields", ErrInvalidCursor)
		}
		return NewestCursor{CreatedAt: *probe.CreatedAt, ID: *probe.ID}, nil

	case ModePerson:
		var probe struct {
			IsTagged    *bool      `json:"is_tagged"`
			MinDistance *float64   `json:"min_distance"`
			ID          *uuid.UUID `json:"id"`
		}
		if err := dec.Decode(&probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		if probe.IsTagged == nil || probe.ID == nil {
			return nil, fmt.Errorf("%w: missing person-mode fields", ErrInvalidCursor)
		}
		return PersonCursor{IsTagged: *probe.IsTagged, MinDistance: probe.MinDistance, ID: *probe.ID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown sort mode %q", ErrInvalidCursor, mode)
	}
}
