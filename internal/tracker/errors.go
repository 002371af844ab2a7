package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrProgressUnavailable is reported when a session is abandoned: its
	// record never appeared, disappeared, or stopped being updated.
	ErrProgressUnavailable = errors.New("progress unavailable")

	// ErrTransport wraps fetch failures that outlived the staleness threshold.
	ErrTransport = errors.New("transport error")
)

// FailureKind classifies why observation of a session ended or degraded.
type FailureKind string

const (
	KindNotYetInitialized       FailureKind = "not_yet_initialized"
	KindAbandoned               FailureKind = "abandoned"
	KindProducerError           FailureKind = "producer_error"
	KindTransportError          FailureKind = "transport_error"
	KindReconciliationAmbiguity FailureKind = "reconciliation_ambiguity"
)

// Failure is delivered to the error callback. Message is what a user sees:
// the producer's own error text, or a generic description otherwise.
type Failure struct {
	SessionID string
	Kind      FailureKind
	Message   string
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Message {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsSoft reports failures the producer never declared itself.
func (f *Failure) IsSoft() bool {
	return f.Kind != KindProducerError
}

func abandoned(sessionID, reason string) *Failure {
	return &Failure{
		SessionID: sessionID,
		Kind:      KindAbandoned,
		Message:   ErrProgressUnavailable.Error(),
		Err:       fmt.Errorf("%w: %s", ErrProgressUnavailable, reason),
	}
}

func producerError(sessionID, message string) *Failure {
	if message == "" {
		message = "job failed"
	}
	return &Failure{
		SessionID: sessionID,
		Kind:      KindProducerError,
		Message:   message,
		Err:       errors.New(message),
	}
}

func transportFailure(sessionID string, cause error) *Failure {
	return &Failure{
		SessionID: sessionID,
		Kind:      KindTransportError,
		Message:   ErrProgressUnavailable.Error(),
		Err:       fmt.Errorf("%w: %v", ErrTransport, cause),
	}
}
