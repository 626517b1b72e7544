package pipeline

import (
	"context"
	"fmt"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
)

// RunScan starts a session and blocks until it reaches a terminal state.
// onProgress, when set, sees every progress snapshot in order. Cancelling
// ctx cancels the session. A failed or cancelled session returns an error
// and no result.
func (e *Engine) RunScan(ctx context.Context, cfg models.ScanConfig, onProgress func(models.ScanSession)) (*models.ScanResult, error) {
	if e.bus == nil {
		return nil, fmt.Errorf("pipeline: RunScan needs an event bus")
	}

	// Subscribe before starting so the terminal event cannot be missed.
	sub := e.bus.Subscribe(64, events.ScanTypes()...)
	defer sub.Close()

	id, err := e.StartScan(cfg)
	if err != nil {
		return nil, err
	}

	return e.await(ctx, id, sub, onProgress)
}

// await follows session id on sub until it ends. A cancel that lands while
// the session is still pending is retried once the session starts running.
func (e *Engine) await(ctx context.Context, id string, sub *events.Subscription, onProgress func(models.ScanSession)) (*models.ScanResult, error) {
	var cancelPending bool
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			cancelPending = !e.CancelScan(id) && e.isPending(id)
		case ev := <-sub.C:
			if ev.SessionID != id {
				continue
			}
			switch ev.Type {
			case events.ScanStarted:
				if cancelPending {
					cancelPending = !e.CancelScan(id)
				}
			case events.ScanProgress:
				if cancelPending {
					cancelPending = !e.CancelScan(id)
				}
				if onProgress != nil && ev.Session != nil {
					onProgress(*ev.Session)
				}
			case events.ScanCompleted:
				return ev.Result, nil
			case events.ScanFailed:
				return nil, fmt.Errorf("pipeline: scan %s failed: %s", id, ev.Message)
			case events.ScanCancelled:
				return nil, fmt.Errorf("pipeline: scan %s: %s: %w", id, ev.Message, context.Canceled)
			}
		}
	}
}

func (e *Engine) isPending(id string) bool {
	snap, ok := e.GetProgress(id)
	return ok && snap.Status == models.StatusPending
}
