package domain

// Mutation kinds carried on the change feed.
const (
	ItemCreated = "item-created"
	ItemUpdated = "item-updated"
	ItemMoved   = "item-moved"
	ItemDeleted = "item-deleted"
)

// Event describes one applied mutation. Delivery is at-least-once and
// unordered across items; consumers must discard events whose Item.Version
// is not newer than what they already hold.
//
// Reindexed is populated only when a move exhausted the position gap and the
// destination bucket was locally renumbered: it carries the sibling snapshots
// whose positions changed, so one mutation still produces exactly one event.
type Event struct {
	Kind      string `json:"kind"`
	Scope     string `json:"scope"`
	Item      Item   `json:"item"`
	Reindexed []Item `json:"reindexed,omitempty"`
}
