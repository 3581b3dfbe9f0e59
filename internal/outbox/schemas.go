package outbox

import "github.com/ivasann/daisy-copilot/internal/domain"

const ledgerEntryRecordedSchema = `{
  "type": "object",
  "title": "LedgerEntryRecorded",
  "properties": {
    "record_id": {"type": "string"},
    "user_id": {"type": "string"},
    "category": {"type": "string", "enum": ["task", "focus"]},
    "kind": {"type": "string"},
    "coins_earned": {"type": "integer"},
    "duration_min": {"type": "integer", "minimum": 0},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "user_id", "category", "kind", "coins_earned", "timestamp"],
  "additionalProperties": false
}`

const streakChangedSchema = `{
  "type": "object",
  "title": "StreakChanged",
  "properties": {
    "user_id": {"type": "string"},
    "streak": {"type": "integer", "minimum": 1},
    "transition": {"type": "string", "enum": ["started", "extended", "reset"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "streak", "transition", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	domain.EventLedgerEntryRecorded: {Schema: ledgerEntryRecordedSchema},
	domain.EventStreakChanged:       {Schema: streakChangedSchema},
}

// Schema returns the JSON schema registered for eventType.
func Schema(eventType string) (string, bool) {
	entry, ok := schemaCatalog[eventType]
	return entry.Schema, ok
}
