// Package ledger provides the shared record store for a cohort: one row per
// participant, one column group per period, persisted in Redis.
//
// # Overview
//
// The ledger is the only shared mutable state in marker. Submission and review
// conversations run concurrently and each holds partial, possibly stale state
// about rows it intends to change, so the ledger never accepts whole-row or
// whole-table rewrites. Every mutation is either a single-cell write or a single
// atomic schema append, executed as a Redis Lua script.
//
// # Core Concepts
//
// Rows hold a participant's identity (name, handle) plus five fields per period:
// submitted_at, artifact, reviewer, comment and verdict. An empty string is the
// null value.
//
// Periods are ordinals 1..N with a free-text label. AppendPeriod adds the five
// fields to every row and records the reviewer drawn for each participant in one
// script, so readers observe either all of a period or none of it.
//
// Staff are stored beside the rows so that role lookups always read the current
// roster.
//
// # Redis Schema
//
// All keys follow the pattern: marker:{cohort}:{entity}[:{id}]
//
// Rows: marker:{cohort}:row:{id} (hash)
// Row order: marker:{cohort}:rows (zset, score = id)
// Handle index: marker:{cohort}:handles (hash, handle -> id)
// Row counter: marker:{cohort}:row_seq
// Periods: marker:{cohort}:periods (hash, ordinal -> label)
// Staff: marker:{cohort}:staff (hash, handle -> JSON)
//
// Change events are published on marker:{cohort}:ledger_events after every
// successful mutation. Delivery is at-most-once; the hashes stay authoritative.
//
// # Usage Example
//
//	client, err := ledger.NewClient(&redis.Options{Addr: "localhost:6379"}, "ds-2026")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	id, err := client.AddParticipant(ctx, ledger.Participant{Name: "Ana", Handle: "@ana"})
//	...
//	err = client.WriteCell(ctx, id, 1, ledger.FieldComment, "help")
package ledger
