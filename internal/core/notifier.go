package core

import "context"

// NotificationSink delivers watchlist-match alerts. Channel routing (email,
// webhook, etc.) is an implementation detail outside this module's scope.
// Nothing in this module calls Notify, so no delivery failure is logged or
// retried here; Database.ListUnnotifiedMatches lists the matches that have
// not been marked as notified.
type NotificationSink interface {
	Notify(ctx context.Context, reqs []NotificationRequest) error
}
