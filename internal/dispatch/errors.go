package dispatch

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrPrecondition marks every reason Start refuses to begin a run.
var ErrPrecondition = errors.New("dispatch precondition failed")

var (
	ErrNoLinks   = errors.Mark(errors.New("no links to dispatch"), ErrPrecondition)
	ErrNoWorkers = errors.Mark(errors.New("no workers available"), ErrPrecondition)
	ErrRunActive = errors.Mark(errors.New("a run is already active"), ErrPrecondition)
)

var (
	// ErrDelivery marks a failed delivery. The link counts as failed and the
	// run continues.
	ErrDelivery = errors.New("delivery failed")
	// ErrDeliveryTimeout marks a delivery that ran out of time.
	ErrDeliveryTimeout = errors.New("delivery timed out")
	// ErrReset marks a failed worker reset; it is only logged.
	ErrReset = errors.New("worker reset failed")
)

// classify marks a driver delivery error with ErrDeliveryTimeout or
// ErrDelivery unless the driver already did.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDeliveryTimeout), errors.Is(err, ErrDelivery):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(err, ErrDeliveryTimeout)
	default:
		return errors.Mark(err, ErrDelivery)
	}
}
