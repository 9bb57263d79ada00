package worker

import (
	"context"
	stderrors "errors"

	"github.com/c360/objectrelay/errors"
)

// Decision is the disposition of one work delivery after processing
type Decision int

const (
	// Complete acks the delivery; a result envelope was produced.
	Complete Decision = iota
	// Retry republishes the envelope with attempt+1, then acks the original.
	Retry
	// DeadLetter routes the envelope to the dead-letter queue, then acks.
	DeadLetter
	// Discard abandons the processing attempt without consuming a retry;
	// the delivery is nacked back to the queue for redelivery. Happens only
	// when shutdown interrupts processing mid-flight.
	Discard
)

// String returns the decision name for logs and metrics labels
func (d Decision) String() string {
	switch d {
	case Complete:
		return "complete"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// decide maps the outcome of processing one envelope at the given attempt
// to a disposition. err is nil when a result was published; otherwise it is
// the classified failure that escaped processing. Invalid- and
// Fatal-classified errors can never succeed on redelivery, so they
// dead-letter regardless of the attempt counter. Transient errors retry
// until the counter would pass maxAttempts.
func decide(err error, attempt, maxAttempts int) Decision {
	switch {
	case err == nil:
		return Complete
	case stderrors.Is(err, context.Canceled):
		return Discard
	case errors.IsInvalid(err), errors.IsFatal(err):
		return DeadLetter
	case attempt >= maxAttempts:
		return DeadLetter
	default:
		return Retry
	}
}
