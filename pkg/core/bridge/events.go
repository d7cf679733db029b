package bridge

// Event is a normalized provider-session event. Adapters translate
// their provider's callback shapes into this set; the controller never
// branches on provider identity.
type Event interface {
	eventType() string
}

// OpenedEvent signals that the provider session is established.
type OpenedEvent struct{}

func (OpenedEvent) eventType() string { return "opened" }

// ClosedEvent signals that the provider session ended.
type ClosedEvent struct {
	Reason string
}

func (ClosedEvent) eventType() string { return "closed" }

// ErroredEvent signals a connection or streaming failure. The controller
// treats it as forcing a transition to the error status followed by a
// best-effort teardown.
type ErroredEvent struct {
	Cause error
}

func (ErroredEvent) eventType() string { return "errored" }

// ToolInvokedEvent carries a single structured function call from the
// provider. Args may be structured data, raw JSON bytes, or a
// stringified JSON payload depending on the provider.
type ToolInvokedEvent struct {
	Name   string
	CallID string
	Args   any
}

func (ToolInvokedEvent) eventType() string { return "tool_invoked" }

// TranscriptEvent carries a fragment of the caller's transcript.
type TranscriptEvent struct {
	Text string
}

func (TranscriptEvent) eventType() string { return "transcript" }

// Update is a state-change notification pushed to the presentation
// layer through Controller.Updates. All fields are copies; consumers
// never observe controller-internal state.
type Update interface {
	updateType() string
}

// StatusUpdate reports a status transition.
type StatusUpdate struct {
	Status Status
}

func (StatusUpdate) updateType() string { return "status" }

// AnalysisUpdate reports a newly accepted analysis record.
type AnalysisUpdate struct {
	SessionID string
	Record    AnalysisRecord
}

func (AnalysisUpdate) updateType() string { return "analysis" }

// TranscriptUpdate reports an appended transcript fragment.
type TranscriptUpdate struct {
	Fragment string
}

func (TranscriptUpdate) updateType() string { return "transcript" }
