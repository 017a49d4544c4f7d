package config

import (
	"sort"
	"strings"
)

// Issue is one invalid config field.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// ValidationError lists every invalid field of a config, sorted by field.
type ValidationError struct {
	Issues []Issue
}

func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "invalid config"
	}
	lines := make([]string, len(err.Issues))
	for i, issue := range err.Issues {
		lines[i] = issue.String()
	}
	return strings.Join(lines, "\n")
}

// Has reports whether field has at least one issue.
func (err *ValidationError) Has(field string) bool {
	if err == nil {
		return false
	}
	for _, issue := range err.Issues {
		if issue.Field == field {
			return true
		}
	}
	return false
}

type issueAdder func(field, message string)

type issueCollector []Issue

func (c *issueCollector) add(field, message string) {
	*c = append(*c, Issue{Field: field, Message: message})
}

func (c issueCollector) err() error {
	if len(c) == 0 {
		return nil
	}
	issues := append([]Issue(nil), c...)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return &ValidationError{Issues: issues}
}
