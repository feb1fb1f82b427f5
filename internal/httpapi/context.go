package httpapi

import "context"

// serverBaseCtx is canceled when the daemon begins shutting down. Removal
// handlers and SSE streams derive from it so they stop instead of holding the
// listener open. Defaults to Background if never set.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process lifetime context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts ties a handler context to both the request and the process
// lifetime: the result is done as soon as either one is. Callers must invoke
// cancel when the handler returns to release the watcher goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
