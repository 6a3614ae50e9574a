package taxonomy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type refKind int

const (
	refMissing refKind = iota
	refNew
	refExisting
)

// NodeRef identifies a submitted node: either a temporary client token for a
// node that has not been stored yet, or the integer id of a stored record.
type NodeRef struct {
	kind  refKind
	token string
	id    int64
}

func NewRef(token string) NodeRef {
	return NodeRef{kind: refNew, token: token}
}

func ExistingRef(id int64) NodeRef {
	return NodeRef{kind: refExisting, id: id}
}

func (r NodeRef) IsNew() bool      { return r.kind == refNew }
func (r NodeRef) IsExisting() bool { return r.kind == refExisting }
func (r NodeRef) Token() string    { return r.token }
func (r NodeRef) ID() int64        { return r.id }

// Valid reports whether the ref was set from a well-formed identifier.
func (r NodeRef) Valid() bool {
	return r.kind != refMissing
}

func (r NodeRef) String() string {
	switch r.kind {
	case refNew:
		return "new:" + r.token
	case refExisting:
		return strconv.FormatInt(r.id, 10)
	default:
		return "<missing>"
	}
}

// key is unique across both kinds and is used to spot repeated identifiers.
func (r NodeRef) key() string {
	return r.String()
}

// IsTempToken reports whether s is a client temporary identifier: a
// canonical lowercase hyphenated UUID.
func IsTempToken(s string) bool {
	if len(s) != 36 {
		return false
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.String() == s
}

// Classify decides the kind of a raw JSON identifier.
func Classify(raw json.RawMessage) (NodeRef, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		return NodeRef{}, fmt.Errorf("classify id: empty: %w", ErrInvalidIdentifier)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return NodeRef{}, fmt.Errorf("classify id %s: %w", data, ErrInvalidIdentifier)
		}
		if !IsTempToken(s) {
			return NodeRef{}, fmt.Errorf("classify id %q: not a temporary token: %w", s, ErrInvalidIdentifier)
		}
		return NewRef(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		id, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return NodeRef{}, fmt.Errorf("classify id %s: not an integer: %w", data, ErrInvalidIdentifier)
		}
		return ExistingRef(id), nil
	default:
		return NodeRef{}, fmt.Errorf("classify id %s: %w", data, ErrInvalidIdentifier)
	}
}

func (r *NodeRef) UnmarshalJSON(data []byte) error {
	ref, err := Classify(data)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case refNew:
		return json.Marshal(r.token)
	case refExisting:
		return json.Marshal(r.id)
	default:
		return []byte("null"), nil
	}
}

// RecordID is a stored record id as sent by single-field actions and forms.
// It accepts a JSON integer or a decimal string.
type RecordID int64

func ParseRecordID(s string) (RecordID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, ErrInvalidIdentifier)
	}
	return RecordID(id), nil
}

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("parse id %s: %w", data, ErrInvalidIdentifier)
		}
		parsed, err := ParseRecordID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	parsed, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse id %s: %w", data, ErrInvalidIdentifier)
	}
	*id = RecordID(parsed)
	return nil
}
