package main

import "context"

// sweepOrphanedIntents runs the reconciliation loop in the background. The
// loop asks the crypto gateway for its recent payments and records every
// intent that has no local order; it exits when ctx is cancelled at
// shutdown.
func (app *application) sweepOrphanedIntents(ctx context.Context) {
	go app.reconciler.Run(ctx, app.config.reconcile.interval, app.config.reconcile.limit)
}
