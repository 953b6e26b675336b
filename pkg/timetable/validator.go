package timetable

import "fmt"

// ConflictType names the double-booked dimension.
type ConflictType string

const (
	ConflictTeacher ConflictType = "teacher"
	ConflictClass   ConflictType = "class"
)

// Conflict pairs an entry with the entry it collides with.
type Conflict struct {
	Type    ConflictType `json:"type"`
	Entry   Entry        `json:"entry"`
	With    Entry        `json:"with"`
	Message string       `json:"message"`
}

// ValidationResult is the outcome of checking a single entry.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ScheduleValidation is the outcome of checking a batch of entries.
type ScheduleValidation struct {
	Valid     bool       `json:"valid"`
	Conflicts []Conflict `json:"conflicts"`
}

// Validator re-checks entries for teacher and class double-booking,
// independently of the scheduler's busy state.
type Validator struct {
	graph *OverlapGraph
	known []Entry
}

// NewValidator builds a validator over the given slots and known entries.
func NewValidator(slots []TimeSlot, existing []Entry) *Validator {
	known := make([]Entry, len(existing))
	copy(known, existing)
	return &Validator{graph: NewOverlapGraph(slots), known: known}
}

// AddEntries extends the known set so later calls validate against it.
// Entries carry no identity, so a known entry validated again is reported
// as clashing with itself. Pass only entries that are not yet known.
func (v *Validator) AddEntries(entries []Entry) {
	v.known = append(v.known, entries...)
}

// ValidateEntry checks entry against every known entry and reports the first conflict.
func (v *Validator) ValidateEntry(entry Entry) ValidationResult {
	for _, other := range v.known {
		if conflicts := v.compare(entry, other); len(conflicts) > 0 {
			return ValidationResult{Valid: false, Error: conflicts[0].Message}
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateSchedule checks each entry against the known set and every pair of entries against each other.
// An entry equal to a known one is a duplicate booking and is reported as a conflict.
func (v *Validator) ValidateSchedule(entries []Entry) ScheduleValidation {
	conflicts := make([]Conflict, 0)
	for _, entry := range entries {
		for _, other := range v.known {
			conflicts = append(conflicts, v.compare(entry, other)...)
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			conflicts = append(conflicts, v.compare(entries[i], entries[j])...)
		}
	}
	return ScheduleValidation{Valid: len(conflicts) == 0, Conflicts: conflicts}
}

func (v *Validator) compare(a, b Entry) []Conflict {
	if a.Day != b.Day || !v.graph.Overlaps(a.TimeSlotID, b.TimeSlotID) {
		return nil
	}
	var conflicts []Conflict
	if a.TeacherID == b.TeacherID {
		conflicts = append(conflicts, Conflict{
			Type:    ConflictTeacher,
			Entry:   a,
			With:    b,
			Message: fmt.Sprintf("teacher %s is already teaching on %s in slot %s", a.TeacherID, b.Day, b.TimeSlotID),
		})
	}
	if a.Grade == b.Grade && a.Section == b.Section {
		conflicts = append(conflicts, Conflict{
			Type:    ConflictClass,
			Entry:   a,
			With:    b,
			Message: fmt.Sprintf("class %s-%s already has a lesson on %s in slot %s", a.Grade, a.Section, b.Day, b.TimeSlotID),
		})
	}
	return conflicts
}
