package timetable

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScope      = errors.New("unknown generation scope")
	ErrDivisionsRequired = errors.New("division records are required to resolve major and group scopes")
)

// ScopeKind selects which allocations a generation run is responsible for.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeMajor    ScopeKind = "major"
	ScopeGroup    ScopeKind = "group"
	ScopeDivision ScopeKind = "division"
)

// Division groups classes under a curricular major and any number of groups.
type Division struct {
	ID       string   `json:"id"`
	MajorID  string   `json:"majorId"`
	GroupIDs []string `json:"groupIds"`
}

// Scope describes a filter request. Divisions is only consulted for major and
// group scopes. A nil Divisions slice is treated as missing.
type Scope struct {
	Kind      ScopeKind
	ID        string
	Divisions []Division
	// FailOpen returns allocations unfiltered when Divisions is missing
	// instead of failing with ErrDivisionsRequired.
	FailOpen bool
}

// FilterByScope returns the allocations relevant to scope. The global scope
// returns the input slice itself.
func FilterByScope(allocations []Allocation, scope Scope) ([]Allocation, error) {
	switch scope.Kind {
	case "", ScopeGlobal:
		return allocations, nil
	case ScopeDivision, ScopeMajor, ScopeGroup:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope.Kind)
	}

	if scope.ID == "" {
		return allocations, nil
	}

	if scope.Kind == ScopeDivision {
		return filterAllocations(allocations, func(a Allocation) bool {
			return a.DivisionID == scope.ID
		}), nil
	}

	if scope.Divisions == nil {
		if scope.FailOpen {
			return allocations, nil
		}
		return nil, fmt.Errorf("%w: scope %s/%s", ErrDivisionsRequired, scope.Kind, scope.ID)
	}

	byID := make(map[string]Division, len(scope.Divisions))
	for _, division := range scope.Divisions {
		byID[division.ID] = division
	}
	return filterAllocations(allocations, func(a Allocation) bool {
		division, ok := byID[a.DivisionID]
		if !ok {
			return false
		}
		if scope.Kind == ScopeMajor {
			return division.MajorID == scope.ID
		}
		for _, groupID := range division.GroupIDs {
			if groupID == scope.ID {
				return true
			}
		}
		return false
	}), nil
}

func filterAllocations(allocations []Allocation, keep func(Allocation) bool) []Allocation {
	result := make([]Allocation, 0, len(allocations))
	for _, alloc := range allocations {
		if keep(alloc) {
			result = append(result, alloc)
		}
	}
	return result
}
