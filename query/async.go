package query

import "context"

// AsyncProcess runs the query on its own goroutine and invokes done
// when it reaches a terminal state.  Cancel the context to stop an
// in-flight query cooperatively; cancellation is observed at run
// boundaries in the dense merge and range boundaries in the copier.
func (q *Query) AsyncProcess(ctx context.Context, done func(*Query, error)) {
	go func() {
		var err error
		if q.typ == Write {
			err = q.Write(ctx)
		} else {
			err = q.Read(ctx)
		}
		if done != nil {
			done(q, err)
		}
	}()
}
