package models

import (
	"time"
)

// Table names for syncable entity types.
const (
	TableGoals         = "goals"
	TableContributions = "contributions"
)

// TableOrder is the fixed entity dependency order: parent tables sync before
// the tables that reference them. Both pull and push iterate in this order so
// a contribution never reaches the server before its goal.
var TableOrder = []string{TableGoals, TableContributions}

// TablePosition returns the index of a table in the dependency order.
// Unknown tables sort last.
func TablePosition(table string) int {
	for i, t := range TableOrder {
		if t == table {
			return i
		}
	}
	return len(TableOrder)
}

// ValidTable reports whether the given table is a known syncable entity type.
func ValidTable(table string) bool {
	return TablePosition(table) < len(TableOrder)
}

// SyncMeta carries the fields every synced record must have. Entity structs
// embed it; Meta gives generic code access to the fields through a pointer.
type SyncMeta struct {
	ID        string     `json:"id"`
	Owner     *string    `json:"owner,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Meta returns the embedded sync fields.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Deleted reports whether the record carries a tombstone.
func (m *SyncMeta) Deleted() bool { return m.DeletedAt != nil }

// Entity is satisfied by pointers to any struct embedding SyncMeta.
type Entity interface {
	Meta() *SyncMeta
}

// Goal is a savings goal. Goals are the parent entity type: contributions
// reference them by GoalID.
type Goal struct {
	SyncMeta
	Name        string     `json:"name"`
	TargetCents int64      `json:"target_cents"`
	SavedCents  int64      `json:"saved_cents"`
	Currency    string     `json:"currency,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// Contribution is a single payment toward a goal.
type Contribution struct {
	SyncMeta
	GoalID        string    `json:"goal_id"`
	AmountCents   int64     `json:"amount_cents"`
	Note          string    `json:"note,omitempty"`
	ContributedAt time.Time `json:"contributed_at"`
}
