package messages

// Screenshot is a capture as the host reports it.
type Screenshot struct {
	Path    string `json:"path"`
	Preview string `json:"preview"`
}

// Result is the generic host reply for fire-and-report calls.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Method names understood by the host.
const (
	MethodGetScreenshots            = "getScreenshots"
	MethodTakeScreenshot            = "takeScreenshot"
	MethodDeleteScreenshot          = "deleteScreenshot"
	MethodClearStore                = "clearStore"
	MethodToggleMainWindow          = "toggleMainWindow"
	MethodTriggerScreenshot         = "triggerScreenshot"
	MethodTriggerProcessScreenshots = "triggerProcessScreenshots"
	MethodReportOverlaySize         = "reportOverlaySize"
	MethodSubscribe                 = "subscribe"
)

// Request is one line sent from the core to the host.
type Request struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Path    string `json:"path,omitempty"`
	Visible bool   `json:"visible,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Response is the single line the host writes back for a Request.
type Response struct {
	ID          string       `json:"id"`
	Success     bool         `json:"success"`
	Error       string       `json:"error,omitempty"`
	Screenshot  *Screenshot  `json:"screenshot,omitempty"`
	Screenshots []Screenshot `json:"screenshots,omitempty"`
}

func (r Response) Result() Result { return Result{Success: r.Success, Error: r.Error} }

// EventType identifies a push event streamed on a subscribe connection.
type EventType string

const (
	EventScreenshotTaken  EventType = "screenshot-taken"
	EventProcessRequested EventType = "process-requested"
	EventToggleWindow     EventType = "toggle-window"
)

// Event is one push line from the host.
type Event struct {
	Type       EventType   `json:"type"`
	Screenshot *Screenshot `json:"screenshot,omitempty"`
}
