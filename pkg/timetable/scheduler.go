package timetable

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultDailyCap is the maximum number of periods a teacher takes per day.
	DefaultDailyCap = 7
	// DefaultTimeBudget bounds a single generation run.
	DefaultTimeBudget = 8 * time.Minute

	largeInputLessons    = 500
	smallInputIterations = 1000
	largeInputIterations = 100
)

// DefaultWorkingDays is used when Input.WorkingDays is nil. A non-nil empty
// list leaves the run with no candidate slots.
var DefaultWorkingDays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday"}

// StopReason explains why the restart loop ended.
type StopReason string

const (
	StopComplete   StopReason = "complete"
	StopDeadline   StopReason = "deadline"
	StopCancelled  StopReason = "cancelled"
	StopIterations StopReason = "iterations"
)

// Input is the flat, already-resolved data a run operates on.
type Input struct {
	TimeSlots   []TimeSlot
	Existing    []Entry
	WorkingDays []string
	Constraints map[string]TeacherConstraint
	Allocations []Allocation
	// SchoolID is stamped onto every generated entry.
	SchoolID string
}

// Options tunes a run. Zero values select the defaults.
type Options struct {
	Seed          int64 // 0 seeds from the clock
	Rand          *rand.Rand
	TimeBudget    time.Duration
	DailyCap      int
	MaxIterations int // 0 = 1000 for up to 500 lessons, 100 above
	Progress      ProgressSink
	Logger        *zap.Logger
	Now           func() time.Time
}

// Result is the best schedule found plus diagnostics.
type Result struct {
	Schedule     []Entry       `json:"schedule"`
	Failures     []Failure     `json:"failures"`
	Unplaced     []Lesson      `json:"unplaced,omitempty"`
	TotalLessons int           `json:"totalLessons"`
	Iterations   int           `json:"iterations"`
	Elapsed      time.Duration `json:"elapsed"`
	StopReason   StopReason    `json:"stopReason"`
}

// Placed returns the number of lessons in the schedule.
func (r Result) Placed() int {
	return len(r.Schedule)
}

// Complete reports whether every lesson was placed.
func (r Result) Complete() bool {
	return len(r.Failures) == 0
}

type candidate struct {
	day  string
	slot TimeSlot
}

type classKey struct {
	grade   string
	section string
}

// Scheduler assigns lessons with randomized restarts of a greedy placement.
// Each run must use its own Scheduler.
type Scheduler struct {
	input  Input
	opts   Options
	rng    *rand.Rand
	logger *zap.Logger
	now    func() time.Time

	graph      *OverlapGraph
	busy       *BusyState
	baseline   BusySnapshot
	candidates []candidate
	byDivision map[string][]candidate

	afterAttempt func(placed int)
}

// NewScheduler prepares the overlap graph, busy state and candidate grid.
func NewScheduler(input Input, opts Options) *Scheduler {
	if input.WorkingDays == nil {
		input.WorkingDays = DefaultWorkingDays
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = DefaultTimeBudget
	}
	if opts.DailyCap <= 0 {
		opts.DailyCap = DefaultDailyCap
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	graph := NewOverlapGraph(input.TimeSlots)
	busy := NewBusyState(graph, input.Constraints, input.Existing)

	s := &Scheduler{
		input:      input,
		opts:       opts,
		rng:        rng,
		logger:     opts.Logger,
		now:        opts.Now,
		graph:      graph,
		busy:       busy,
		baseline:   busy.Snapshot(),
		byDivision: make(map[string][]candidate),
	}
	s.candidates = buildCandidates(input.WorkingDays, input.TimeSlots)
	return s
}

func buildCandidates(days []string, slots []TimeSlot) []candidate {
	result := make([]candidate, 0, len(days)*len(slots))
	for _, day := range days {
		for _, slot := range slots {
			if slot.IsBreak() || !slot.AppliesTo(day) {
				continue
			}
			result = append(result, candidate{day: day, slot: slot})
		}
	}
	return result
}

// TotalLessons is the number of lesson units the allocations expand into.
func (s *Scheduler) TotalLessons() int {
	total := 0
	for _, alloc := range s.input.Allocations {
		if alloc.PeriodsPerWeek > 0 {
			total += alloc.PeriodsPerWeek
		}
	}
	return total
}

// Lessons expands the allocations into lesson units in heuristic order.
func (s *Scheduler) Lessons() []Lesson {
	teacherLoad := make(map[string]int)
	classLoad := make(map[classKey]int)
	lessons := make([]Lesson, 0)
	for _, alloc := range s.input.Allocations {
		for i := 0; i < alloc.PeriodsPerWeek; i++ {
			lessons = append(lessons, Lesson{
				ID:         fmt.Sprintf("%s-%s-%s-%s-%d", alloc.TeacherID, alloc.SubjectID, alloc.GradeID, alloc.SectionID, i),
				TeacherID:  alloc.TeacherID,
				SubjectID:  alloc.SubjectID,
				GradeID:    alloc.GradeID,
				SectionID:  alloc.SectionID,
				DivisionID: alloc.DivisionID,
			})
		}
		if alloc.PeriodsPerWeek > 0 {
			teacherLoad[alloc.TeacherID] += alloc.PeriodsPerWeek
			classLoad[classKey{grade: alloc.GradeID, section: alloc.SectionID}] += alloc.PeriodsPerWeek
		}
	}

	sort.SliceStable(lessons, func(i, j int) bool {
		ti, tj := teacherLoad[lessons[i].TeacherID], teacherLoad[lessons[j].TeacherID]
		if ti != tj {
			return ti > tj
		}
		ci := classLoad[classKey{grade: lessons[i].GradeID, section: lessons[i].SectionID}]
		cj := classLoad[classKey{grade: lessons[j].GradeID, section: lessons[j].SectionID}]
		return ci > cj
	})
	return lessons
}

func (s *Scheduler) iterationCap(total int) int {
	if s.opts.MaxIterations > 0 {
		return s.opts.MaxIterations
	}
	if total <= largeInputLessons {
		return smallInputIterations
	}
	return largeInputIterations
}

// Run searches until every lesson is placed, the time budget elapses, ctx is
// cancelled or the iteration cap is reached. The deadline and ctx are checked
// once per attempt, so an attempt in progress always finishes.
func (s *Scheduler) Run(ctx context.Context) Result {
	start := s.now()
	deadline := start.Add(s.opts.TimeBudget)

	order := s.Lessons()
	total := len(order)
	maxIterations := s.iterationCap(total)

	var (
		best         []Entry
		bestUnplaced []Lesson
		bestPlaced   = -1
		iterations   int
		reason       = StopIterations
	)

	for iterations < maxIterations {
		if iterations > 0 {
			s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		schedule, unplaced := s.attempt(order)
		s.busy.Restore(s.baseline)
		iterations++
		if s.afterAttempt != nil {
			s.afterAttempt(len(schedule))
		}

		if len(schedule) > bestPlaced {
			best, bestUnplaced, bestPlaced = schedule, unplaced, len(schedule)
			s.logger.Debug("timetable new best",
				zap.Int("iteration", iterations),
				zap.Int("placed", bestPlaced),
				zap.Int("total", total),
			)
			if s.opts.Progress != nil {
				s.opts.Progress.Report(bestPlaced, total)
			}
		}

		if bestPlaced == total {
			reason = StopComplete
			break
		}
		if ctx.Err() != nil {
			reason = StopCancelled
			break
		}
		if !s.now().Before(deadline) {
			reason = StopDeadline
			break
		}
	}

	result := Result{
		Schedule:     best,
		Failures:     []Failure{},
		TotalLessons: total,
		Iterations:   iterations,
		Elapsed:      s.now().Sub(start),
		StopReason:   reason,
	}
	if result.Schedule == nil {
		result.Schedule = []Entry{}
	}
	if bestPlaced < total {
		if bestPlaced < 0 {
			bestPlaced = 0
			bestUnplaced = append([]Lesson(nil), order...)
		}
		result.Unplaced = bestUnplaced
		result.Failures = append(result.Failures, Failure{
			Reason: fmt.Sprintf("placed %d of %d lessons", bestPlaced, total),
		})
	}

	s.logger.Info("timetable generation finished",
		zap.Int("placed", len(result.Schedule)),
		zap.Int("total", total),
		zap.Int("iterations", iterations),
		zap.String("stop_reason", string(reason)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

// attempt places lessons greedily in order. It leaves the busy state dirty;
// the caller restores the baseline.
func (s *Scheduler) attempt(order []Lesson) ([]Entry, []Lesson) {
	schedule := make([]Entry, 0, len(order))
	var unplaced []Lesson
	for _, lesson := range order {
		slot, ok := s.findBestSlot(lesson)
		if !ok {
			unplaced = append(unplaced, lesson)
			continue
		}
		entry := s.materialize(lesson, slot)
		schedule = append(schedule, entry)
		s.busy.MarkBusy(entry, true)
	}
	return schedule, unplaced
}

func (s *Scheduler) findBestSlot(lesson Lesson) (candidate, bool) {
	pool := s.candidatesFor(lesson.DivisionID)
	shuffled := make([]candidate, len(pool))
	copy(shuffled, pool)
	s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, c := range shuffled {
		if s.busy.IsTeacherBusy(lesson.TeacherID, c.day, c.slot.ID) {
			continue
		}
		if s.busy.IsClassBusy(lesson.GradeID, lesson.SectionID, c.day, c.slot.ID) {
			continue
		}
		if !s.busy.DailyLoadOK(lesson.TeacherID, c.day, s.opts.DailyCap) {
			continue
		}
		return c, true
	}
	return candidate{}, false
}

// candidatesFor drops slots pinned to a different division than the lesson.
func (s *Scheduler) candidatesFor(divisionID string) []candidate {
	if divisionID == "" {
		return s.candidates
	}
	if cached, ok := s.byDivision[divisionID]; ok {
		return cached
	}
	filtered := make([]candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if c.slot.DivisionID != "" && c.slot.DivisionID != divisionID {
			continue
		}
		filtered = append(filtered, c)
	}
	s.byDivision[divisionID] = filtered
	return filtered
}

func (s *Scheduler) materialize(lesson Lesson, c candidate) Entry {
	divisionID := lesson.DivisionID
	if divisionID == "" {
		divisionID = c.slot.DivisionID
	}
	return Entry{
		TeacherID:  lesson.TeacherID,
		SubjectID:  lesson.SubjectID,
		Grade:      lesson.GradeID,
		Section:    lesson.SectionID,
		Day:        c.day,
		TimeSlotID: c.slot.ID,
		DivisionID: divisionID,
		SchoolID:   s.input.SchoolID,
	}
}

// Generate is a convenience wrapper running a fresh Scheduler.
func Generate(ctx context.Context, input Input, opts Options) Result {
	return NewScheduler(input, opts).Run(ctx)
}
