package hostipc

// This file defines the contract between the core and the Host Capture Service.

import (
	"context"

	"screen-queue/src/messages"
)

// Host is everything the core may ask of the host process.
type Host interface {
	// GetScreenshots returns the host's current capture snapshot.
	GetScreenshots(ctx context.Context) ([]messages.Screenshot, error)
	// TakeScreenshot captures synchronously and returns the new capture.
	// It does not emit a screenshot-taken event.
	TakeScreenshot(ctx context.Context) (messages.Screenshot, error)
	// DeleteScreenshot removes the underlying file. A transport failure is
	// returned as err; a refused deletion as Result.Success == false.
	DeleteScreenshot(ctx context.Context, path string) (messages.Result, error)
	ClearStore(ctx context.Context) (messages.Result, error)
	ToggleMainWindow(ctx context.Context) (messages.Result, error)
	// TriggerScreenshot asks the host to capture; the capture arrives later
	// as a screenshot-taken event.
	TriggerScreenshot(ctx context.Context) (messages.Result, error)
	// TriggerProcessScreenshots asks the host to broadcast a
	// process-requested event.
	TriggerProcessScreenshots(ctx context.Context) (messages.Result, error)
	// ReportOverlaySize is the window resize notification.
	ReportOverlaySize(ctx context.Context, visible bool, height int) error
	// OnScreenshotTaken registers fn for every external capture. The returned
	// func unsubscribes; it is safe to call more than once.
	OnScreenshotTaken(fn func(messages.Screenshot)) (func(), error)
	// OnEvent registers fn for one push event type.
	OnEvent(t messages.EventType, fn func(messages.Event)) (func(), error)
}

// Backend is what a host process plugs into Server.
type Backend interface {
	List(ctx context.Context) ([]messages.Screenshot, error)
	Capture(ctx context.Context) (messages.Screenshot, error)
	Delete(ctx context.Context, path string) error
	Clear(ctx context.Context) error
}

// PortRange is the inclusive TCP port range the host may listen on.
type PortRange struct {
	Start int
	End   int
}

var DefaultPortRange = PortRange{Start: 49600, End: 49650}

func (r PortRange) normalized() PortRange {
	if r.Start == 0 && r.End == 0 {
		return DefaultPortRange
	}
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}
	return r
}
