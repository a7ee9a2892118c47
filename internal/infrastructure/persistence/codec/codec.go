// Package codec encodes snapshots for the persistence backends.
//
// The current format is a versioned JSON object. The decoder also accepts
// the legacy five-element array written by older clients:
//
//	[cookies, homeworkIds, messageIds, markIds, userId]
//
// When a passphrase is configured, payloads are sealed with cryptox and
// wrapped in a small JSON envelope.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/cryptox"
)

// LegacyVersion is assigned to snapshots decoded from the array format.
const LegacyVersion = 1

const sealedFormat = "sealed-v1"

// ErrPassphraseRequired is returned when a sealed payload is read without a passphrase.
var ErrPassphraseRequired = shared.NewDomainError("snapshot", "Decode", shared.ErrInvalidInput, "snapshot is encrypted, passphrase required")

// envelope wraps a sealed snapshot.
type envelope struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// Codec marshals and unmarshals snapshots. The zero value writes plain JSON.
type Codec struct {
	passphrase []byte
}

// New creates a codec. An empty passphrase disables sealing.
func New(passphrase string) *Codec {
	c := &Codec{}
	if passphrase != "" {
		c.passphrase = []byte(passphrase)
	}
	return c
}

// Sealed reports whether Marshal encrypts its output.
func (c *Codec) Sealed() bool {
	return c != nil && len(c.passphrase) > 0
}

// Marshal encodes a snapshot.
func (c *Codec) Marshal(s *diary.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, shared.NewDomainError("snapshot", "Encode", shared.ErrInvalidInput, "nil snapshot")
	}

	plain, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if !c.Sealed() {
		return plain, nil
	}

	sealed, err := cryptox.Seal(c.passphrase, plain)
	if err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	return json.Marshal(envelope{Format: sealedFormat, Data: sealed})
}

// Unmarshal decodes any supported snapshot format.
func (c *Codec) Unmarshal(data []byte) (*diary.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, invalid("empty payload", nil)
	}

	switch data[0] {
	case '[':
		return decodeLegacy(data)
	case '{':
	default:
		return nil, invalid("unrecognised payload", nil)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Format != "" {
		return c.open(env)
	}
	return decodeCurrent(data)
}

func (c *Codec) open(env envelope) (*diary.Snapshot, error) {
	if env.Format != sealedFormat {
		return nil, invalid(fmt.Sprintf("unknown envelope format %q", env.Format), nil)
	}
	if !c.Sealed() {
		return nil, ErrPassphraseRequired
	}
	plain, err := cryptox.Open(c.passphrase, env.Data)
	if err != nil {
		return nil, invalid("open sealed snapshot", err)
	}
	return decodeCurrent(plain)
}

func decodeCurrent(data []byte) (*diary.Snapshot, error) {
	var s diary.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, invalid("decode snapshot", err)
	}
	if s.Version <= 0 || s.Version > diary.SnapshotVersion {
		return nil, invalid(fmt.Sprintf("unsupported snapshot version %d", s.Version), nil)
	}
	if s.UserID == "" {
		s.UserID = s.Session.UserID
	}
	if s.Session.UserID == "" {
		s.Session.UserID = s.UserID
	}
	return &s, nil
}

// decodeLegacy reads [cookies, homeworkIds, messageIds, markIds, userId].
// A null id list means the registry was never populated.
func decodeLegacy(data []byte) (*diary.Snapshot, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, invalid("decode legacy snapshot", err)
	}
	if len(parts) != 5 {
		return nil, invalid(fmt.Sprintf("legacy snapshot has %d elements, want 5", len(parts)), nil)
	}

	var cookies map[string]string
	if err := json.Unmarshal(parts[0], &cookies); err != nil {
		return nil, invalid("decode legacy cookies", err)
	}

	// Older clients never wrote null; an empty list meant "not fetched yet".
	lists := make([][]string, 3)
	for i := range lists {
		ids, err := decodeIDs(parts[i+1])
		if err != nil {
			return nil, invalid("decode legacy ids", err)
		}
		if len(ids) > 0 {
			lists[i] = ids
		}
	}

	userID, err := decodeID(parts[4])
	if err != nil {
		return nil, invalid("decode legacy user id", err)
	}

	return &diary.Snapshot{
		Version: LegacyVersion,
		Session: diary.Session{
			UserID:  userID,
			Cookies: cookies,
		},
		Homeworks: lists[0],
		Messages:  lists[1],
		Marks:     lists[2],
		UserID:    userID,
		SavedAt:   time.Time{},
	}, nil
}

func decodeIDs(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := decodeID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// decodeID accepts a JSON string, a JSON number or null.
func decodeID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("unexpected id %s", strings.TrimSpace(string(raw)))
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func invalid(message string, err error) error {
	if err == nil {
		return shared.NewDomainError("snapshot", "Decode", shared.ErrInvalidInput, message)
	}
	return shared.WrapError("snapshot", "Decode", shared.ErrInvalidInput, message, err)
}
