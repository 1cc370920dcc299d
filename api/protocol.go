package api

import "boardsync/domain"

const requestMaxSize = 64 * 1024 // 64 KiB

// IdempotencyKeyHeader carries the client-supplied key identifying one
// logical mutation attempt.
const IdempotencyKeyHeader = "Idempotency-Key"

type createItemRequest struct {
	Bucket      domain.Bucket   `json:"bucket"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	DueDate     string          `json:"dueDate,omitempty"`
}

func (r createItemRequest) fields() domain.ItemFields {
	return domain.ItemFields{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Assignee:    r.Assignee,
		DueDate:     r.DueDate,
	}
}

type moveItemRequest struct {
	Scope  string        `json:"scope"`
	Bucket domain.Bucket `json:"bucket"`
	Rank   int           `json:"rank"`
}

type updateItemRequest struct {
	Scope           string           `json:"scope"`
	Patch           domain.ItemPatch `json:"patch"`
	ExpectedVersion int64            `json:"expectedVersion,omitempty"`
}

type itemResponse struct {
	Item           domain.Item `json:"item"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
