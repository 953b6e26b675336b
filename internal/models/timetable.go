package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

// TimeSlot is a row of the time_slots table. Day is NULL for slots that repeat every working day.
type TimeSlot struct {
	ID         string    `db:"id" json:"id"`
	SchoolID   string    `db:"school_id" json:"school_id"`
	Day        *string   `db:"day" json:"day,omitempty"`
	Name       string    `db:"name" json:"name"`
	SlotType   string    `db:"slot_type" json:"slot_type"`
	StartTime  string    `db:"start_time" json:"start_time"`
	EndTime    string    `db:"end_time" json:"end_time"`
	DivisionID *string   `db:"division_id" json:"division_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ToTimetable converts the row into the scheduler representation.
func (s TimeSlot) ToTimetable() (timetable.TimeSlot, error) {
	start, err := timetable.ParseClock(s.StartTime)
	if err != nil {
		return timetable.TimeSlot{}, fmt.Errorf("slot %s start: %w", s.ID, err)
	}
	end, err := timetable.ParseClock(s.EndTime)
	if err != nil {
		return timetable.TimeSlot{}, fmt.Errorf("slot %s end: %w", s.ID, err)
	}
	slotType := timetable.SlotType(s.SlotType)
	if slotType == "" {
		slotType = timetable.SlotTypeClass
	}
	slot := timetable.TimeSlot{
		ID:         s.ID,
		Day:        deref(s.Day),
		Name:       s.Name,
		Type:       slotType,
		Start:      start,
		End:        end,
		DivisionID: deref(s.DivisionID),
	}
	if err := slot.Validate(); err != nil {
		return timetable.TimeSlot{}, err
	}
	return slot, nil
}

// Allocation is a row of teacher_allocations: a weekly teaching requirement.
type Allocation struct {
	ID             string  `db:"id" json:"id"`
	SchoolID       string  `db:"school_id" json:"school_id"`
	TeacherID      string  `db:"teacher_id" json:"teacher_id"`
	SubjectID      string  `db:"subject_id" json:"subject_id"`
	GradeID        string  `db:"grade_id" json:"grade_id"`
	SectionID      string  `db:"section_id" json:"section_id"`
	PeriodsPerWeek int     `db:"periods_per_week" json:"periods_per_week"`
	DivisionID     *string `db:"division_id" json:"division_id,omitempty"`
	MajorName      *string `db:"major_name" json:"major_name,omitempty"`
	GroupName      *string `db:"group_name" json:"group_name,omitempty"`
}

// ToTimetable converts the row into the scheduler representation.
func (a Allocation) ToTimetable() timetable.Allocation {
	return timetable.Allocation{
		TeacherID:      a.TeacherID,
		SubjectID:      a.SubjectID,
		GradeID:        a.GradeID,
		SectionID:      a.SectionID,
		PeriodsPerWeek: a.PeriodsPerWeek,
		DivisionID:     deref(a.DivisionID),
		MajorName:      deref(a.MajorName),
		GroupName:      deref(a.GroupName),
	}
}

// Division groups classes under a major and a set of groups.
type Division struct {
	ID       string         `db:"id" json:"id"`
	SchoolID string         `db:"school_id" json:"school_id"`
	Name     string         `db:"name" json:"name"`
	MajorID  string         `db:"major_id" json:"major_id"`
	GroupIDs pq.StringArray `db:"group_ids" json:"group_ids"`
}

// ToTimetable converts the row into the scope resolver representation.
func (d Division) ToTimetable() timetable.Division {
	return timetable.Division{ID: d.ID, MajorID: d.MajorID, GroupIDs: []string(d.GroupIDs)}
}

// TeacherConstraint stores the "{day}-{slotId}" pairs a teacher cannot take as JSONB.
type TeacherConstraint struct {
	TeacherID        string         `db:"teacher_id" json:"teacher_id"`
	SchoolID         string         `db:"school_id" json:"school_id"`
	UnavailableSlots types.JSONText `db:"unavailable_slots" json:"unavailable_slots"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Slots decodes the unavailable slot list. An empty column yields no slots.
func (c TeacherConstraint) Slots() ([]string, error) {
	if len(c.UnavailableSlots) == 0 {
		return nil, nil
	}
	var slots []string
	if err := json.Unmarshal(c.UnavailableSlots, &slots); err != nil {
		return nil, fmt.Errorf("decode unavailable slots for teacher %s: %w", c.TeacherID, err)
	}
	return slots, nil
}

// TimetableEntry is a persisted lesson on the school timetable.
type TimetableEntry struct {
	ID              string    `db:"id" json:"id"`
	SchoolID        string    `db:"school_id" json:"school_id"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	SubjectID       string    `db:"subject_id" json:"subject_id"`
	GradeID         string    `db:"grade_id" json:"grade_id"`
	SectionID       string    `db:"section_id" json:"section_id"`
	Day             string    `db:"day" json:"day"`
	TimeSlotID      string    `db:"time_slot_id" json:"time_slot_id"`
	DivisionID      *string   `db:"division_id" json:"division_id,omitempty"`
	GenerationJobID *string   `db:"generation_job_id" json:"generation_job_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ToTimetable converts the row into the scheduler representation.
func (e TimetableEntry) ToTimetable() timetable.Entry {
	return timetable.Entry{
		TeacherID:  e.TeacherID,
		SubjectID:  e.SubjectID,
		Grade:      e.GradeID,
		Section:    e.SectionID,
		Day:        e.Day,
		TimeSlotID: e.TimeSlotID,
		DivisionID: deref(e.DivisionID),
		SchoolID:   e.SchoolID,
	}
}

// NewTimetableEntry builds a row from a generated entry.
func NewTimetableEntry(schoolID string, entry timetable.Entry, jobID string) TimetableEntry {
	row := TimetableEntry{
		SchoolID:   schoolID,
		TeacherID:  entry.TeacherID,
		SubjectID:  entry.SubjectID,
		GradeID:    entry.Grade,
		SectionID:  entry.Section,
		Day:        entry.Day,
		TimeSlotID: entry.TimeSlotID,
		DivisionID: ref(entry.DivisionID),
	}
	if jobID != "" {
		row.GenerationJobID = &jobID
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
