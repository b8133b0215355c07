package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"golang.org/x/mod/semver"

	"fleet-rollout/internal/types"
)

// opTokens is the ordered list of requirement operators tried during
// parsing. Longer tokens must precede shorter ones to avoid false matches
// (e.g. ">=" before ">").
var opTokens = []types.ComparatorOp{
	types.ComparatorGreaterEq,
	types.ComparatorLessEq,
	types.ComparatorExact,
	types.ComparatorGreater,
	types.ComparatorLess,
	types.ComparatorTilde,
	types.ComparatorCaret,
}

// ParseRequirement splits a raw requirement such as ">=1.2, <2" into its
// comparators. A comparator without an operator is a caret requirement.
func ParseRequirement(raw string) (types.Requirement, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return types.Requirement{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("empty requirement")
	}
	req := types.Requirement{Raw: trimmed}
	for _, part := range strings.Split(trimmed, ",") {
		comparator, err := parseComparator(strings.TrimSpace(part))
		if err != nil {
			return types.Requirement{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid requirement %q", trimmed)).
				WithCause(err)
		}
		req.Comparators = append(req.Comparators, comparator)
	}
	return req, nil
}

func parseComparator(raw string) (types.Comparator, error) {
	if raw == "" {
		return types.Comparator{}, fmt.Errorf("empty comparator")
	}
	op := types.ComparatorOp("")
	for _, token := range opTokens {
		if strings.HasPrefix(raw, string(token)) {
			op = token
			raw = strings.TrimSpace(strings.TrimPrefix(raw, string(token)))
			break
		}
	}
	raw = strings.TrimPrefix(raw, "v")
	if raw == "" {
		return types.Comparator{}, fmt.Errorf("missing version")
	}

	core, pre, hasPre := strings.Cut(raw, "-")
	if build := strings.Index(core, "+"); build >= 0 {
		core = core[:build]
	}
	if hasPre {
		if build := strings.Index(pre, "+"); build >= 0 {
			pre = pre[:build]
		}
		if pre == "" || !semver.IsValid("v0.0.0-"+pre) {
			return types.Comparator{}, fmt.Errorf("invalid prerelease in %q", raw)
		}
	}

	fields := strings.Split(core, ".")
	if len(fields) > 3 {
		return types.Comparator{}, fmt.Errorf("too many version components in %q", raw)
	}
	var numbers []uint64
	wildcard := false
	for _, field := range fields {
		if isWildcard(field) {
			wildcard = true
			continue
		}
		if wildcard {
			return types.Comparator{}, fmt.Errorf("number after wildcard in %q", raw)
		}
		n, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return types.Comparator{}, fmt.Errorf("invalid version component %q", field)
		}
		numbers = append(numbers, n)
	}

	if wildcard {
		if op != "" && op != types.ComparatorExact {
			return types.Comparator{}, fmt.Errorf("wildcard not allowed with %s", op)
		}
		if hasPre {
			return types.Comparator{}, fmt.Errorf("wildcard not allowed with prerelease")
		}
		if len(numbers) == 0 {
			return types.Comparator{Op: types.ComparatorWildcard}, nil
		}
		op = types.ComparatorExact
	}
	if op == "" {
		op = types.ComparatorCaret
	}
	if hasPre && len(numbers) != 3 {
		return types.Comparator{}, fmt.Errorf("prerelease requires a full version in %q", raw)
	}

	comparator := types.Comparator{Op: op, Major: numbers[0], Prerelease: pre}
	if len(numbers) > 1 {
		comparator.Minor = &numbers[1]
	}
	if len(numbers) > 2 {
		comparator.Patch = &numbers[2]
	}
	return comparator, nil
}

func isWildcard(field string) bool {
	return field == "*" || field == "x" || field == "X"
}
