package core

// TurnRecord is one entry of a conversation history: the acting role's kind
// tag under "role" plus every output field of that turn.
type TurnRecord map[string]any

// RoleKey is the TurnRecord key holding the acting role's kind tag.
const RoleKey = "role"

// NewTurnRecord builds a history record for a completed turn.
func NewTurnRecord(roleKind string, output map[string]any) TurnRecord {
	record := TurnRecord{RoleKey: roleKind}
	for k, v := range output {
		record[k] = v
	}
	return record
}

// History is the ordered, append-only sequence of turn records accumulated
// while scheduling one line. It is owned by a single in-flight scheduling
// call and must not be shared across lines.
type History []TurnRecord

// Snapshot returns a record-deep copy of the history. Executors observe the
// turns completed so far and may do what they like with the copy; the
// scheduler's history stays isolated. Values inside a record are shared.
func (h History) Snapshot() History {
	out := make(History, len(h))
	for i, record := range h {
		dup := make(TurnRecord, len(record))
		for k, v := range record {
			dup[k] = v
		}
		out[i] = dup
	}
	return out
}
