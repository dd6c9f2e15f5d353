package node

import (
	"github.com/google/uuid"

	apperrors "curio-backend/internal/errors"
)

// ID is a value object wrapping the node identifier.
type ID struct {
	value string
}

// NewID creates a new random node ID.
func NewID() ID {
	return ID{value: uuid.New().String()}
}

// ParseID creates an ID from a string, validating it is a proper UUID.
func ParseID(id string) (ID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ID{}, apperrors.Validation(apperrors.CodeInvalidInput, "invalid node id").
			WithContext("id", id).
			Build()
	}
	return ID{value: id}, nil
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return id.value
}

// Equals checks if two IDs are equal.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// IsEmpty checks if the ID is unset.
func (id ID) IsEmpty() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as
// plain strings in JSON bodies.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
