package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// A row hash mixes identity fields (name, handle) with period cells named
// p{N}:{field}. Staff entries are JSON-encoded into single hash values.

// HashToRow converts a row hash to a Row.
// Cells that do not parse as p{N}:{field} are ignored.
func HashToRow(id int, hash map[string]string) (*Row, error) {
	row := &Row{
		Participant: Participant{
			ID:     id,
			Name:   hash["name"],
			Handle: hash["handle"],
		},
		Submissions: make(map[int]*Submission),
	}

	for name, value := range hash {
		period, field, ok := parseCellName(name)
		if !ok {
			continue
		}
		sub := row.Submissions[period]
		if sub == nil {
			sub = &Submission{}
			row.Submissions[period] = sub
		}
		sub.set(field, value)
	}

	return row, nil
}

// parseCellName splits "p3:verdict" into (3, FieldVerdict).
func parseCellName(name string) (int, Field, bool) {
	if !strings.HasPrefix(name, "p") {
		return 0, "", false
	}
	head, tail, found := strings.Cut(name[1:], ":")
	if !found {
		return 0, "", false
	}
	period, err := strconv.Atoi(head)
	if err != nil || period < 1 {
		return 0, "", false
	}
	field := Field(tail)
	if field.Validate() != nil {
		return 0, "", false
	}
	return period, field, true
}

// flatToMap converts a Redis HGETALL reply (k1, v1, k2, v2, ...) to a map.
func flatToMap(flat []interface{}) (map[string]string, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd number of elements in hash reply: %d", len(flat))
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hash key type %T", flat[i])
		}
		v, _ := flat[i+1].(string)
		out[k] = v
	}
	return out, nil
}

// hashToPeriods converts the periods hash to a slice sorted by ordinal.
func hashToPeriods(hash map[string]string) ([]Period, error) {
	periods := make([]Period, 0, len(hash))
	for k, label := range hash {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid period ordinal %q: %w", k, err)
		}
		periods = append(periods, Period{Number: n, Label: label})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Number < periods[j].Number })
	return periods, nil
}

// StaffToJSON encodes a staff entry for the staff hash.
func StaffToJSON(s *Staff) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal staff: %w", err)
	}
	return string(data), nil
}

// JSONToStaff decodes a staff hash value.
func JSONToStaff(data string) (*Staff, error) {
	var s Staff
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staff: %w", err)
	}
	return &s, nil
}
