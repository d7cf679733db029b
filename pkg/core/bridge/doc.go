// Package bridge is the live audio/event core of CallSensei: it owns
// the session lifecycle between an operator's microphone and a hosted
// voice-AI provider, and turns the provider's asynchronous tool-call
// protocol into a provider-agnostic stream of analysis state.
//
// # Architecture
//
// The package provides the pieces a presentation layer never sees
// past:
//
//   - Controller: the session orchestrator and single state owner
//   - Event: the normalized provider event set adapters emit
//   - Adapter / Session: the provider boundary (pkg/providers implements it)
//   - CapturePipeline: the audio input boundary (pkg/capture implements it)
//   - ParseAnalysis: the update_dashboard tool-call interpreter
//
// # Data Flow
//
//	Capture → Downsample → PCM encode → Session.SendAudioFrame
//	Session callbacks → Event → Controller dispatch → SessionState
//
// # State Machine
//
//	disconnected → connecting → connected → disconnected
//	                   │              │
//	                   └──→ error ←───┘        (no auto-retry)
//
// All inbound events funnel through one serialized dispatch point and
// are checked against the event-processing gate, which closes exactly
// once per lifecycle. Closing the gate is synchronous: events and acks
// racing with teardown are dropped, never applied.
package bridge
