package timetable

import "maps"

type teacherSlotKey struct {
	teacher string
	day     string
	slot    string
}

type classSlotKey struct {
	grade   string
	section string
	day     string
	slot    string
}

type teacherDayKey struct {
	teacher string
	day     string
}

// BusyState tracks teacher and class occupancy plus per-day teacher load.
// It is owned by a single run and is not safe for concurrent use.
type BusyState struct {
	graph       *OverlapGraph
	unavailable map[string]map[string]struct{}

	teachers map[teacherSlotKey]struct{}
	classes  map[classSlotKey]struct{}
	load     map[teacherDayKey]int
}

// BusySnapshot is a detached copy of the mutable part of a BusyState.
type BusySnapshot struct {
	teachers map[teacherSlotKey]struct{}
	classes  map[classSlotKey]struct{}
	load     map[teacherDayKey]int
}

// NewBusyState builds the tracker and marks every existing entry as busy.
func NewBusyState(graph *OverlapGraph, constraints map[string]TeacherConstraint, existing []Entry) *BusyState {
	b := &BusyState{
		graph:       graph,
		unavailable: make(map[string]map[string]struct{}, len(constraints)),
		teachers:    make(map[teacherSlotKey]struct{}),
		classes:     make(map[classSlotKey]struct{}),
		load:        make(map[teacherDayKey]int),
	}
	for teacherID, constraint := range constraints {
		blocked := make(map[string]struct{}, len(constraint.UnavailableSlots))
		for _, key := range constraint.UnavailableSlots {
			blocked[key] = struct{}{}
		}
		b.unavailable[teacherID] = blocked
	}
	b.Initialize(existing)
	return b
}

// Initialize marks entries as busy. NewBusyState calls it with the existing entries.
func (b *BusyState) Initialize(entries []Entry) {
	for _, entry := range entries {
		b.MarkBusy(entry, true)
	}
}

// MarkBusy adds or removes the keys derived from entry.
func (b *BusyState) MarkBusy(entry Entry, busy bool) {
	tk := teacherSlotKey{teacher: entry.TeacherID, day: entry.Day, slot: entry.TimeSlotID}
	ck := classSlotKey{grade: entry.Grade, section: entry.Section, day: entry.Day, slot: entry.TimeSlotID}
	lk := teacherDayKey{teacher: entry.TeacherID, day: entry.Day}
	if busy {
		b.teachers[tk] = struct{}{}
		b.classes[ck] = struct{}{}
		b.load[lk]++
		return
	}
	delete(b.teachers, tk)
	delete(b.classes, ck)
	if b.load[lk] > 1 {
		b.load[lk]--
	} else {
		delete(b.load, lk)
	}
}

// IsTeacherBusy reports whether the teacher is unavailable, already placed in
// the slot, or placed in any slot overlapping it on the same day.
func (b *BusyState) IsTeacherBusy(teacherID, day, slotID string) bool {
	if _, blocked := b.unavailable[teacherID][UnavailableKey(day, slotID)]; blocked {
		return true
	}
	if _, ok := b.teachers[teacherSlotKey{teacher: teacherID, day: day, slot: slotID}]; ok {
		return true
	}
	for other := range b.graph.neighbours(slotID) {
		if _, ok := b.teachers[teacherSlotKey{teacher: teacherID, day: day, slot: other}]; ok {
			return true
		}
	}
	return false
}

// IsClassBusy reports whether the class is placed in the slot or an overlapping one on the same day.
func (b *BusyState) IsClassBusy(grade, section, day, slotID string) bool {
	if _, ok := b.classes[classSlotKey{grade: grade, section: section, day: day, slot: slotID}]; ok {
		return true
	}
	for other := range b.graph.neighbours(slotID) {
		if _, ok := b.classes[classSlotKey{grade: grade, section: section, day: day, slot: other}]; ok {
			return true
		}
	}
	return false
}

// DailyLoad returns the number of periods the teacher holds on day.
func (b *BusyState) DailyLoad(teacherID, day string) int {
	return b.load[teacherDayKey{teacher: teacherID, day: day}]
}

// DailyLoadOK reports whether one more period fits under limit.
func (b *BusyState) DailyLoadOK(teacherID, day string, limit int) bool {
	return b.DailyLoad(teacherID, day) < limit
}

// Snapshot deep-copies the occupancy sets and load counters.
func (b *BusyState) Snapshot() BusySnapshot {
	return BusySnapshot{
		teachers: maps.Clone(b.teachers),
		classes:  maps.Clone(b.classes),
		load:     maps.Clone(b.load),
	}
}

// Restore replaces the current state with a copy of snapshot, leaving the
// snapshot reusable for later restores.
func (b *BusyState) Restore(snapshot BusySnapshot) {
	b.teachers = cloneOrEmpty(snapshot.teachers)
	b.classes = cloneOrEmpty(snapshot.classes)
	b.load = cloneOrEmpty(snapshot.load)
}

func cloneOrEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return maps.Clone(m)
}
