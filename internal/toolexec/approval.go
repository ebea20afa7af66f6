package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/kv"
	"github.com/haasonsaas/nexus/pkg/models"
)

// approvalWaitTimeout is the maximum time an approval request waits before
// being treated as a denial.
const approvalWaitTimeout = 300 * time.Second

// ApprovalCallback notifies the end user (over the session's WebSocket
// event channel) that a tool call awaits approval. Registering it is how
// the API layer learns to surface the request.
type ApprovalCallback func(ctx context.Context, req models.ToolApprovalRequest) error

// ApprovalBus mediates out-of-band approval, always through the shared kv
// pub/sub topic even for single-process deployments — the local path is
// just kv.MemoryStore implementing the same Store interface, eliminating a
// separate in-process-future code path.
type ApprovalBus struct {
	store    kv.Store
	callback ApprovalCallback
}

// NewApprovalBus wires a kv.Store (RedisStore in production, MemoryStore in
// tests or single-host deployments) and the notification callback.
func NewApprovalBus(store kv.Store, callback ApprovalCallback) *ApprovalBus {
	return &ApprovalBus{store: store, callback: callback}
}

// ErrApprovalDenied is returned (as a result field, not panicked) when an
// approval times out or is explicitly denied.
var ErrApprovalDenied = errors.New("toolexec: approval denied")

// Request registers a pending approval, invokes the callback, and awaits
// resolution for up to approvalWaitTimeout. A timeout is treated as denial.
func (b *ApprovalBus) Request(ctx context.Context, req models.ToolApprovalRequest) (models.ApprovalResolution, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now()

	topic := approvalTopic(req.ID)
	sub, err := b.store.Subscribe(ctx, topic)
	if err != nil {
		return models.ApprovalResolution{}, err
	}
	defer sub.Close()

	if b.callback != nil {
		if err := b.callback(ctx, req); err != nil {
			return models.ApprovalResolution{}, err
		}
	}

	timer := time.NewTimer(approvalWaitTimeout)
	defer timer.Stop()

	select {
	case payload, ok := <-sub.Channel():
		if !ok {
			return models.ApprovalResolution{ApprovalID: req.ID, Approved: false, ResolvedAt: time.Now()}, nil
		}
		var resolution models.ApprovalResolution
		if err := json.Unmarshal([]byte(payload), &resolution); err != nil {
			return models.ApprovalResolution{}, err
		}
		return resolution, nil

	case <-timer.C:
		return models.ApprovalResolution{ApprovalID: req.ID, Approved: false, ResolvedAt: time.Now()}, nil

	case <-ctx.Done():
		return models.ApprovalResolution{}, ctx.Err()
	}
}

// Resolve publishes a resolution to the topic a pending Request call is
// waiting on. This is the only entry point for resolving an approval,
// whether the resolution arrives in the same process (tests, single-host)
// or a different one (production, via Redis pub/sub).
func (b *ApprovalBus) Resolve(ctx context.Context, resolution models.ApprovalResolution) error {
	payload, err := json.Marshal(resolution)
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, approvalTopic(resolution.ApprovalID), string(payload))
}

func approvalTopic(approvalID string) string {
	return "approval:" + approvalID
}
