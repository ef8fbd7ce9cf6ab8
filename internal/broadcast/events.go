// Package broadcast pushes committed inventory changes to connected clients
// over websockets and keeps the cached active-product count fresh.
package broadcast

import (
	"context"
	"time"
)

// Event is one committed mutation pushed to connected clients.
type Event struct {
	Type   string    `json:"type"`
	Action string    `json:"action"`
	Entity string    `json:"entity"`
	ID     int64     `json:"id,omitempty"`
	At     time.Time `json:"at"`
}

// Feed combines the hub and the count cache behind the change-feed port the
// services publish to.
type Feed struct {
	hub    *Hub
	counts *CountCache
}

// NewFeed constructs Feed. Either part may be nil.
func NewFeed(hub *Hub, counts *CountCache) *Feed {
	return &Feed{hub: hub, counts: counts}
}

// Publish fans the event out to connected clients.
func (f *Feed) Publish(action, entity string, id int64) {
	if f == nil || f.hub == nil {
		return
	}
	f.hub.Publish(action, entity, id)
}

// Invalidate drops the cached product count.
func (f *Feed) Invalidate(ctx context.Context) {
	if f == nil || f.counts == nil {
		return
	}
	f.counts.Invalidate(ctx)
}
