package models

import (
	"time"

	"github.com/google/uuid"
)

// Result classifies the outcome of a reported operation.
type Result string

const (
	ResultNeutral Result = "neutral"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event is one completed operation reported by a client application. Events are
// immutable after creation and consumed exactly once by a tenant analyzer.
type Event struct {
	ID            string            `json:"id"`
	Tenant        string            `json:"tenant"`
	OperationName string            `json:"operation,omitempty"`
	Result        Result            `json:"result"`
	Timestamp     time.Time         `json:"timestamp"`
	ErrorDetail   string            `json:"error,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	OtherInfo     string            `json:"other_info,omitempty"`
}

// NewEvent builds an Event with a fresh id and a UTC creation timestamp.
func NewEvent(tenant, operation string, result Result) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		OperationName: operation,
		Result:        result,
		Timestamp:     time.Now().UTC(),
	}
}

// TimestampedMessage is one entry in the engine diagnostic stream.
type TimestampedMessage struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// AnalyzerStatus is a point-in-time snapshot of one tenant analyzer, exposed
// through the operational surface.
type AnalyzerStatus struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	QueueDepth    int    `json:"queue_depth"`
	RuleCount     int    `json:"rule_count"`
	ProcessingP95 string `json:"processing_p95,omitempty"`
}
