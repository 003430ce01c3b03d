package ips

import (
	"sort"
	"strconv"
	"strings"
)

// Rule is one intrusion-prevention rule descriptor from the backend catalog.
type Rule struct {
	ID   int
	Name string
	CVEs []string
}

// Endpoint is a managed computer. PolicyID is nil when no policy is assigned.
type Endpoint struct {
	ID       int
	Hostname string
	PolicyID *int
}

// Policy is a named collection of applied IPS rules.
type Policy struct {
	ID      int
	Name    string
	RuleIDs []int
}

// Direction selects whether rules are applied or withdrawn.
type Direction int

const (
	DirectionEnable Direction = iota
	DirectionDisable
)

func (d Direction) String() string {
	if d == DirectionDisable {
		return "disable"
	}
	return "enable"
}

// ParseSelector maps the enable_rules flag to a Direction. Only "true" and
// "false" are accepted, case-insensitively. Surrounding whitespace is not
// stripped.
func ParseSelector(v string) (Direction, error) {
	switch strings.ToLower(v) {
	case "true":
		return DirectionEnable, nil
	case "false":
		return DirectionDisable, nil
	default:
		return DirectionEnable, Fatal(ErrInvalidSelector, `"enable_rules" must be set to true or false`)
	}
}

// Request carries the normalized invocation parameters.
type Request struct {
	Hostname   string
	PolicyName string
	CVE        string
	Direction  Direction
}

type intSet map[int]struct{}

func newIntSet(ids []int) intSet {
	s := make(intSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s intSet) minus(other intSet) []int {
	var out []int
	for id := range s {
		if _, ok := other[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func (s intSet) intersect(other intSet) []int {
	var out []int
	for id := range s {
		if _, ok := other[id]; ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func (s intSet) sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// JoinIDs renders rule IDs as a comma separated list.
func JoinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func policyIDString(id *int) string {
	if id == nil {
		return "none"
	}
	return strconv.Itoa(*id)
}
