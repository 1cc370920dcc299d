package domain

import (
	"strings"
	"unicode/utf8"
)

const maxTitleLen = 200

// NormalizeFields validates create fields and fills defaults. The returned
// fields have a trimmed title and a concrete priority.
func NormalizeFields(f ItemFields) (ItemFields, error) {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return f, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(f.Title) > maxTitleLen {
		return f, ValidationError{Field: "title", Reason: "too long"}
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if !f.Priority.Valid() {
		return f, ValidationError{Field: "priority", Reason: "unknown value"}
	}
	return f, nil
}

// ValidatePatch rejects patches that change nothing or carry invalid values.
func ValidatePatch(p ItemPatch) error {
	if p.Empty() {
		return ValidationError{Field: "patch", Reason: "no fields"}
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return ValidationError{Field: "title", Reason: "must not be empty"}
		}
		if utf8.RuneCountInString(t) > maxTitleLen {
			return ValidationError{Field: "title", Reason: "too long"}
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return ValidationError{Field: "priority", Reason: "unknown value"}
	}
	return nil
}

// Apply merges the patch into the item, leaving identity, ordering and
// version fields alone.
func (p ItemPatch) Apply(it *Item) {
	if p.Title != nil {
		it.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Priority != nil {
		it.Priority = *p.Priority
	}
	if p.Assignee != nil {
		it.Assignee = *p.Assignee
	}
	if p.DueDate != nil {
		it.DueDate = *p.DueDate
	}
}
