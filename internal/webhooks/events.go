package webhooks

import "context"

const (
	EventThreadCreated  = "thread.created"
	EventThreadUpdated  = "thread.updated"
	EventThreadDeleted  = "thread.deleted"
	EventPostCreated    = "post.created"
	EventPostUpdated    = "post.updated"
	EventPostDeleted    = "post.deleted"
	EventUserRegistered = "user.registered"
	EventUserBanned     = "user.banned"
	EventReportCreated  = "report.created"
	EventReportResolved = "report.resolved"
	EventPing           = "ping"
)

var Events = []string{
	EventThreadCreated,
	EventThreadUpdated,
	EventThreadDeleted,
	EventPostCreated,
	EventPostUpdated,
	EventPostDeleted,
	EventUserRegistered,
	EventUserBanned,
	EventReportCreated,
	EventReportResolved,
	EventPing,
}

// KnownEvent reports whether name is an event webhooks can subscribe to.
func KnownEvent(name string) bool {
	for _, e := range Events {
		if e == name {
			return true
		}
	}
	return false
}

// Publisher announces forum events to outbound webhooks.
type Publisher interface {
	Publish(ctx context.Context, event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) {}

// Nop discards every event.
var Nop Publisher = nopPublisher{}
