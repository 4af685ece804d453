// Package queue carries license lifecycle events over RabbitMQ: a buffered
// publisher used by the services and a consumer that appends every event to
// a daily-rotated audit log.
package queue

import "time"

const (
	// QueueName is the durable queue lifecycle events are routed to.
	QueueName = "license.events"
	// EventStatusChanged is the only event type published today.
	EventStatusChanged = "license.status_changed"
)

// Event sources.
const (
	SourceActivation = "activation"
	SourceAdmin      = "admin"
	SourceSync       = "sync"
)

// LicenseEvent describes one write to a license row.  From is empty for a
// newly inserted license.  When only the cached upstream status changed,
// From and To are equal and Upstream carries the new value.
type LicenseEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	LicenseID string    `json:"license_id"`
	Login     int64     `json:"login"`
	Server    string    `json:"server"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Upstream  string    `json:"upstream,omitempty"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}
