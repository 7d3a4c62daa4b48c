// Package isolation defines the transaction isolation levels a harness run
// can be configured with.
package isolation

import (
	"database/sql"
	"fmt"
	"strings"
)

// Level is a transaction isolation level. Levels are ordered from weakest to
// strongest, so ordering operators compare strength.
type Level int

const (
	// ReadUncommitted permits dirty reads. Most MVCC databases treat it as
	// ReadCommitted.
	ReadUncommitted Level = iota
	// ReadCommitted takes a fresh snapshot for every statement.
	ReadCommitted
	// RepeatableRead uses one snapshot for the whole transaction.
	RepeatableRead
	// Serializable guarantees an outcome equivalent to some serial order.
	Serializable
)

var levelNames = map[Level]string{
	ReadUncommitted: "read-uncommitted",
	ReadCommitted:   "read-committed",
	RepeatableRead:  "repeatable-read",
	Serializable:    "serializable",
}

// aliases accepted by Parse in addition to the canonical names.
var levelAliases = map[string]Level{
	"uncommitted":      ReadUncommitted,
	"ru":               ReadUncommitted,
	"committed":        ReadCommitted,
	"rc":               ReadCommitted,
	"repeatable":       RepeatableRead,
	"rr":               RepeatableRead,
	"ser":              Serializable,
	"read_uncommitted": ReadUncommitted,
	"read_committed":   ReadCommitted,
	"repeatable_read":  RepeatableRead,
}

// Levels returns all isolation levels, ordered from weakest to strongest.
func Levels() []Level {
	return []Level{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable}
}

// Parse converts a level name into a Level. Matching is case-insensitive and
// accepts spaces, hyphens or underscores as separators.
func Parse(s string) (Level, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "-")
	for l, name := range levelNames {
		if name == norm {
			return l, nil
		}
	}
	if l, ok := levelAliases[norm]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("unknown isolation level %q: must be one of %v", s, Levels())
}

// String returns the canonical hyphenated name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// WeakerThan reports whether l provides strictly weaker guarantees than l2.
func (l Level) WeakerThan(l2 Level) bool {
	return l < l2
}

// UsesSnapshot reports whether the level reads from a single snapshot taken
// at transaction start. Backends detect write conflicts against that
// snapshot and abort with a serialization failure.
func (l Level) UsesSnapshot() bool {
	return !l.WeakerThan(RepeatableRead)
}

// SQL maps the level onto the database/sql isolation constants.
func (l Level) SQL() sql.IsolationLevel {
	switch l {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case ReadCommitted:
		return sql.LevelReadCommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid isolation level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// RunEachLevel calls f in a subtest for each isolation level.
func RunEachLevel[T testingTB[T]](t T, f func(T, Level)) {
	for _, l := range Levels() {
		t.Run(l.String(), func(t T) { f(t, l) })
	}
}

// testingTB matches *testing.T and *testing.B without importing testing.
type testingTB[T any] interface {
	Run(name string, f func(t T)) bool
}
