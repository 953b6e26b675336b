package timetable

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidClock      = errors.New("clock must be formatted as HH:MM")
	ErrInvalidSlot       = errors.New("invalid time slot")
	ErrInvalidAllocation = errors.New("invalid allocation")
)

// SlotType distinguishes teaching periods from breaks.
type SlotType string

const (
	SlotTypeClass SlotType = "class"
	SlotTypeBreak SlotType = "break"
)

// Clock is a wall-clock time of day expressed in minutes since midnight.
type Clock int

// ParseClock accepts "HH:MM" and the "HH:MM:SS" form Postgres returns for TIME columns.
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
	}
	clock := Clock(hours*60 + minutes)
	if clock > 24*60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
	}
	return clock, nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText renders the clock as HH:MM.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses HH:MM.
func (c *Clock) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeSlot is a named interval on the weekly grid. A slot without Day is generic
// and applies to every working day.
type TimeSlot struct {
	ID         string   `json:"id"`
	Day        string   `json:"day,omitempty"`
	Name       string   `json:"name"`
	Type       SlotType `json:"type"`
	Start      Clock    `json:"startTime"`
	End        Clock    `json:"endTime"`
	DivisionID string   `json:"divisionId,omitempty"`
}

// NewTimeSlot builds a slot from wall-clock strings and validates it.
func NewTimeSlot(id, day, start, end string, slotType SlotType) (TimeSlot, error) {
	startClock, err := ParseClock(start)
	if err != nil {
		return TimeSlot{}, err
	}
	endClock, err := ParseClock(end)
	if err != nil {
		return TimeSlot{}, err
	}
	if slotType == "" {
		slotType = SlotTypeClass
	}
	slot := TimeSlot{ID: id, Day: day, Name: id, Type: slotType, Start: startClock, End: endClock}
	if err := slot.Validate(); err != nil {
		return TimeSlot{}, err
	}
	return slot, nil
}

// Validate checks identity, type and the start < end invariant.
func (s TimeSlot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSlot)
	}
	if s.Type != SlotTypeClass && s.Type != SlotTypeBreak {
		return fmt.Errorf("%w: slot %s has unknown type %q", ErrInvalidSlot, s.ID, s.Type)
	}
	if s.Start >= s.End {
		return fmt.Errorf("%w: slot %s starts at %s but ends at %s", ErrInvalidSlot, s.ID, s.Start, s.End)
	}
	return nil
}

// IsGeneric reports whether the slot expands across all working days.
func (s TimeSlot) IsGeneric() bool {
	return s.Day == ""
}

// IsBreak reports whether the slot is excluded from scheduling.
func (s TimeSlot) IsBreak() bool {
	return s.Type == SlotTypeBreak
}

// AppliesTo reports whether the slot can be used on the given day.
func (s TimeSlot) AppliesTo(day string) bool {
	return s.IsGeneric() || s.Day == day
}

// Allocation is a weekly teaching requirement for one teacher, subject and class.
type Allocation struct {
	TeacherID      string `json:"teacherId"`
	SubjectID      string `json:"subjectId"`
	GradeID        string `json:"gradeId"`
	SectionID      string `json:"sectionId"`
	PeriodsPerWeek int    `json:"periodsPerWeek"`
	DivisionID     string `json:"divisionId,omitempty"`
	MajorName      string `json:"majorName,omitempty"`
	GroupName      string `json:"groupName,omitempty"`
}

// NewAllocation builds a validated allocation.
func NewAllocation(teacherID, subjectID, gradeID, sectionID string, periodsPerWeek int) (Allocation, error) {
	alloc := Allocation{
		TeacherID:      teacherID,
		SubjectID:      subjectID,
		GradeID:        gradeID,
		SectionID:      sectionID,
		PeriodsPerWeek: periodsPerWeek,
	}
	if err := alloc.Validate(); err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// Validate checks required identifiers and a positive period count.
func (a Allocation) Validate() error {
	switch {
	case a.TeacherID == "":
		return fmt.Errorf("%w: teacherId is required", ErrInvalidAllocation)
	case a.SubjectID == "":
		return fmt.Errorf("%w: subjectId is required", ErrInvalidAllocation)
	case a.GradeID == "":
		return fmt.Errorf("%w: gradeId is required", ErrInvalidAllocation)
	case a.SectionID == "":
		return fmt.Errorf("%w: sectionId is required", ErrInvalidAllocation)
	case a.PeriodsPerWeek <= 0:
		return fmt.Errorf("%w: periodsPerWeek must be > 0 (teacher %s, subject %s)", ErrInvalidAllocation, a.TeacherID, a.SubjectID)
	}
	return nil
}

// Entry is a placed or pre-existing lesson on the timetable.
type Entry struct {
	TeacherID  string `json:"teacherId"`
	SubjectID  string `json:"subjectId"`
	Grade      string `json:"grade"`
	Section    string `json:"section"`
	Day        string `json:"day"`
	TimeSlotID string `json:"timeSlotId"`
	DivisionID string `json:"divisionId,omitempty"`
	SchoolID   string `json:"schoolId,omitempty"`
}

// TeacherConstraint lists "{day}-{slotId}" pairs the teacher cannot take.
type TeacherConstraint struct {
	UnavailableSlots []string `json:"unavailableSlots"`
}

// UnavailableKey formats a day/slot pair the way TeacherConstraint stores it.
func UnavailableKey(day, slotID string) string {
	return day + "-" + slotID
}

// Lesson is one indivisible occurrence of an allocation.
type Lesson struct {
	ID         string `json:"id"`
	TeacherID  string `json:"teacherId"`
	SubjectID  string `json:"subjectId"`
	GradeID    string `json:"gradeId"`
	SectionID  string `json:"sectionId"`
	DivisionID string `json:"divisionId,omitempty"`
}

// Failure explains why the returned schedule is incomplete.
type Failure struct {
	Reason string `json:"reason"`
}
