package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the audit log.
const (
	EntityBill          = "bill"
	EntityLedgerEntry   = "ledger_entry"
	EntityServicePeriod = "service_period"
)

// Actions recorded in the audit log.
const (
	ActionBillCreate    = "bill.create"
	ActionBillUpdate    = "bill.update"
	ActionLedgerCreate  = "ledger.create"
	ActionPeriodCreate  = "period.create"
	ActionPeriodClose   = "period.close"
	ActionPeriodReopen  = "period.reopen"
	ActionOpeningCreate = "ledger.opening"
)

// Entry represents an append-only audit log row. ActorID is empty for
// system actions.
type Entry struct {
	ID            string
	EntityType    string
	EntityID      string
	Action        string
	ActorID       string
	Changes       json.RawMessage
	PayloadDigest string
	CreatedAt     time.Time
}

// NewEntry snapshots changes into an entry ready to be written.
func NewEntry(entityType, entityID, action, actorID string, changes map[string]any, now time.Time) (Entry, error) {
	data, err := json.Marshal(changes)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:            NewID(),
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        action,
		ActorID:       actorID,
		Changes:       data,
		PayloadDigest: DigestJSON(data),
		CreatedAt:     now.UTC(),
	}, nil
}

// ChangesMap decodes the snapshot.
func (e Entry) ChangesMap() (map[string]any, error) {
	out := map[string]any{}
	if len(e.Changes) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Changes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
