// Package roster loads the cohort's participant and staff lists from a YAML
// file and writes them into the ledger.
//
// Example roster.yml:
//
//	participants:
//	  - name: Ana
//	    handle: "@ana"
//	staff:
//	  - name: Kate
//	    handle: "@kate"
//	    role: curator
//	  - name: Rita
//	    handle: "@rita"
//	    role: assistant
package roster

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/marker/pkg/ledger"
	"gopkg.in/yaml.v3"
)

// Entry is one person on a roster.
type Entry struct {
	Name   string `yaml:"name"`
	Handle string `yaml:"handle"`
	Role   string `yaml:"role,omitempty"` // staff only
}

// Roster is the parsed roster file.
type Roster struct {
	Participants []Entry `yaml:"participants"`
	Staff        []Entry `yaml:"staff"`
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates roster YAML.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster YAML: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roster: %w", err)
	}
	return &r, nil
}

// Validate checks names, handles and roles, and rejects a handle listed twice
// on the same list.
func (r *Roster) Validate() error {
	seen := make(map[string]bool)
	for i, e := range r.Participants {
		p := ledger.Participant{Name: strings.TrimSpace(e.Name), Handle: ledger.NormalizeHandle(e.Handle)}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("participants[%d]: %w", i, err)
		}
		if seen[p.Handle] {
			return fmt.Errorf("participants[%d]: duplicate handle %s", i, p.Handle)
		}
		seen[p.Handle] = true
	}

	seen = make(map[string]bool)
	for i, e := range r.Staff {
		s, err := e.staff()
		if err != nil {
			return fmt.Errorf("staff[%d]: %w", i, err)
		}
		if seen[s.Handle] {
			return fmt.Errorf("staff[%d]: duplicate handle %s", i, s.Handle)
		}
		seen[s.Handle] = true
	}
	return nil
}

func (e Entry) staff() (ledger.Staff, error) {
	role, err := ledger.ParseRole(e.Role)
	if err != nil {
		return ledger.Staff{}, err
	}
	s := ledger.Staff{Name: strings.TrimSpace(e.Name), Handle: ledger.NormalizeHandle(e.Handle), Role: role}
	return s, s.Validate()
}

// Store is the ledger surface an import writes to.
type Store interface {
	AddParticipant(ctx context.Context, p ledger.Participant) (int, error)
	ReplaceStaff(ctx context.Context, staff []ledger.Staff) error
}

// Result summarises an import.
type Result struct {
	Rows  map[string]int // participant handle -> row id
	Staff int
}

// Import adds every participant (existing handles keep their row) and replaces
// the staff list. Participants are never removed.
func Import(ctx context.Context, store Store, r *Roster) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Rows: make(map[string]int, len(r.Participants))}
	for _, e := range r.Participants {
		p := ledger.Participant{Name: strings.TrimSpace(e.Name), Handle: ledger.NormalizeHandle(e.Handle)}
		id, err := store.AddParticipant(ctx, p)
		if err != nil {
			return nil, err
		}
		res.Rows[p.Handle] = id
	}

	staff := make([]ledger.Staff, 0, len(r.Staff))
	for _, e := range r.Staff {
		s, _ := e.staff()
		staff = append(staff, s)
	}
	if err := store.ReplaceStaff(ctx, staff); err != nil {
		return nil, err
	}
	res.Staff = len(staff)

	return res, nil
}
