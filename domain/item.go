package domain

// Bucket is a named column of the board. An item belongs to exactly one
// bucket at any instant.
type Bucket string

const (
	BucketTodo       Bucket = "todo"
	BucketInProgress Bucket = "in_progress"
	BucketDone       Bucket = "done"
	BucketCancelled  Bucket = "cancelled"
)

// Buckets lists all buckets in display order.
var Buckets = []Bucket{BucketTodo, BucketInProgress, BucketDone, BucketCancelled}

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	switch b {
	case BucketTodo, BucketInProgress, BucketDone, BucketCancelled:
		return true
	}
	return false
}

// Priority is the item priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Item is a single board entry. Position is unique within (Scope, Bucket)
// and determines display order. Version is a monotonic unix-nano timestamp
// advanced by every successful mutation; it doubles as updated-at.
type Item struct {
	ID          string   `json:"id"`
	Scope       string   `json:"scope"`
	Bucket      Bucket   `json:"bucket"`
	Position    int64    `json:"position"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	CreatedBy   string   `json:"createdBy,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	Version     int64    `json:"version"`
}

// ItemFields carries the caller-supplied fields of a create mutation.
type ItemFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
}

// ItemPatch carries a partial field update. Nil pointers leave the field
// unchanged.
type ItemPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Assignee == nil && p.DueDate == nil
}

// Board is a bucket-sorted snapshot of one scope.
type Board struct {
	Scope   string            `json:"scope"`
	Columns map[Bucket][]Item `json:"columns"`
}

// Count returns the total number of items on the board.
func (b Board) Count() int {
	n := 0
	for _, items := range b.Columns {
		n += len(items)
	}
	return n
}
