package rpc

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the result category of a RequestAttempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
)

// RejectReason identifies which admission gate rejected an attempt.
type RejectReason string

const (
	RejectRateLimited  RejectReason = "rate_limited"
	RejectCircuitOpen  RejectReason = "circuit_open"
	RejectTrialLimit   RejectReason = "trial_limit"
	RejectBulkheadFull RejectReason = "bulkhead_full"
	RejectQueueFull    RejectReason = "queue_full"
	RejectExcluded     RejectReason = "excluded"
)

// RequestAttempt records one concrete call. It is immutable once recorded.
type RequestAttempt struct {
	ID       uuid.UUID     `json:"id"`
	Endpoint string        `json:"endpoint"`
	Method   string        `json:"method"`
	Params   []any         `json:"params,omitempty"`
	Attempt  int           `json:"attempt"`
	IssuedAt time.Time     `json:"issuedAt"`
	Duration time.Duration `json:"duration"`
	Outcome  Outcome       `json:"outcome"`

	// Kind and Code describe the failure for error and timeout outcomes
	Kind Kind `json:"kind,omitempty"`
	Code int  `json:"code,omitempty"`

	// Reason is set for rejected outcomes
	Reason RejectReason `json:"reason,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewAttempt builds a RequestAttempt from a finished call. A nil err yields a
// success. Negative durations are clamped to zero.
func NewAttempt(endpoint string, call Call, attempt int, issuedAt time.Time, d time.Duration, err error) RequestAttempt {
	if d < 0 {
		d = 0
	}

	a := RequestAttempt{
		ID:       uuid.New(),
		Endpoint: endpoint,
		Method:   call.Method,
		Params:   call.Params,
		Attempt:  attempt,
		IssuedAt: issuedAt,
		Duration: d,
		Outcome:  OutcomeSuccess,
	}

	if err == nil {
		return a
	}

	rpcErr := Classify(err)
	a.Kind = rpcErr.Kind
	a.Code = rpcErr.Code
	a.Error = rpcErr.Error()
	if rpcErr.Kind == KindTimeout {
		a.Outcome = OutcomeTimeout
	} else {
		a.Outcome = OutcomeError
	}
	return a
}

// Rejected builds a RequestAttempt for a call blocked by one of the engine's
// own admission gates. It never reached the transport.
func Rejected(endpoint string, call Call, issuedAt time.Time, reason RejectReason) RequestAttempt {
	return RequestAttempt{
		ID:       uuid.New(),
		Endpoint: endpoint,
		Method:   call.Method,
		Params:   call.Params,
		Attempt:  1,
		IssuedAt: issuedAt,
		Outcome:  OutcomeRejected,
		Reason:   reason,
	}
}

// Succeeded reports whether the attempt succeeded.
func (a RequestAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}

// ReachedTransport reports whether the attempt was actually issued to the
// transport, i.e. it was not rejected by an admission gate.
func (a RequestAttempt) ReachedTransport() bool {
	return a.Outcome != OutcomeRejected
}
