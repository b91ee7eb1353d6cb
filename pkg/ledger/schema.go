package ledger

import "fmt"

// Redis key pattern helpers
//
// All keys and channels are namespaced by cohort so several cohorts can share
// one Redis server.
//
// Key pattern: marker:{cohort}:{entity}[:{id}]
// Channel pattern: marker:{cohort}:{event_type}_events

// RowKey returns the Redis key for a participant row.
// Pattern: marker:{cohort}:row:{id}
func RowKey(cohort string, id int) string {
	return fmt.Sprintf("%s%d", rowKeyPrefix(cohort), id)
}

// rowKeyPrefix is handed to Lua scripts that build row keys from ids.
func rowKeyPrefix(cohort string) string {
	return fmt.Sprintf("marker:%s:row:", cohort)
}

// RowsKey returns the Redis key for the ordered set of row ids.
// Pattern: marker:{cohort}:rows
func RowsKey(cohort string) string {
	return fmt.Sprintf("marker:%s:rows", cohort)
}

// HandlesKey returns the Redis key for the participant handle index.
// Pattern: marker:{cohort}:handles
func HandlesKey(cohort string) string {
	return fmt.Sprintf("marker:%s:handles", cohort)
}

// RowSeqKey returns the Redis key for the row id counter.
// Pattern: marker:{cohort}:row_seq
func RowSeqKey(cohort string) string {
	return fmt.Sprintf("marker:%s:row_seq", cohort)
}

// PeriodsKey returns the Redis key for the period hash (ordinal -> label).
// Pattern: marker:{cohort}:periods
func PeriodsKey(cohort string) string {
	return fmt.Sprintf("marker:%s:periods", cohort)
}

// StaffKey returns the Redis key for the staff hash (handle -> JSON).
// Pattern: marker:{cohort}:staff
func StaffKey(cohort string) string {
	return fmt.Sprintf("marker:%s:staff", cohort)
}

// LedgerEventsChannel returns the Pub/Sub channel for change events.
// Pattern: marker:{cohort}:ledger_events
func LedgerEventsChannel(cohort string) string {
	return fmt.Sprintf("marker:%s:ledger_events", cohort)
}

// CellName returns the hash field holding field for period.
// Pattern: p{period}:{field}
func CellName(period int, field Field) string {
	return fmt.Sprintf("p%d:%s", period, field)
}
