package testutil

import (
	"context"
	"sync"

	"dropwatch-go/internal/core"
)

// StubNotifier records every submitted notification request.
type StubNotifier struct {
	mu   sync.Mutex
	Reqs []core.NotificationRequest
	Err  error
}

func (n *StubNotifier) Notify(ctx context.Context, reqs []core.NotificationRequest) error {
	if n.Err != nil {
		return n.Err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Reqs = append(n.Reqs, reqs...)
	return nil
}

func (n *StubNotifier) Sent() []core.NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.NotificationRequest, len(n.Reqs))
	copy(out, n.Reqs)
	return out
}

var _ core.NotificationSink = (*StubNotifier)(nil)
