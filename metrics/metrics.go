// Package metrics defines the instrumentation surface for the payment
// engine: event counters (challenges issued, payments verified, replays
// rejected) and operation latencies.
package metrics

import "time"

// Recorder receives engine instrumentation events.
type Recorder interface {
	IncCounter(event string, labels map[string]string)
	ObserveLatency(operation string, d time.Duration, labels map[string]string)
}

// Event names recorded by the engine.
const (
	EventChallengeIssued  = "challenge_issued"
	EventPaymentVerified  = "payment_verified"
	EventPaymentRejected  = "payment_rejected"
	EventPaymentSettled   = "payment_settled"
	EventSettlementFailed = "settlement_failed"
	EventReplayRejected   = "replay_rejected"
)

type noopRecorder struct{}

// NewNoop returns a recorder that discards everything.
func NewNoop() Recorder { return noopRecorder{} }

func (noopRecorder) IncCounter(string, map[string]string)                    {}
func (noopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
