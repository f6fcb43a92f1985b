package webhook

import (
	"context"

	"github.com/kursadbilgin/production-control/internal/jobs"
)

// SendHandler runs send_webhook jobs. A failed send the subscription allows another
// attempt for is returned as a retryable error; any other failure ends the job.
func SendHandler(d *Dispatcher) jobs.HandlerFunc {
	return func(ctx context.Context, task *jobs.Task) (any, error) {
		var args SendArgs
		if err := task.Decode(&args); err != nil {
			return nil, err
		}

		result, err := d.Deliver(ctx, args.DeliveryID)
		if err != nil {
			return nil, err
		}

		if result.Outcome == OutcomeFailed {
			if result.Retryable {
				return result, result.Err()
			}
			return result, jobs.Permanent(result.Err())
		}
		return result, nil
	}
}
