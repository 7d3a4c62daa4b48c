// Package harness runs the isolation experiment: N workers each perform M
// retry-until-success increments of one shared counter at a fixed isolation
// level, then the final counter is compared with N x M.
//
// # Run sequence
//
//  1. Open a coordinator store, optionally provision the counter, reset it to 0.
//  2. Record the start time.
//  3. Start every worker goroutine. Each worker opens its own store.
//  4. Wait for all workers (errgroup join).
//  5. Record the elapsed time.
//  6. Read the final counter.
//  7. Compare it with workers x iterations.
//
// The final read happens after the join, so it observes every committed
// increment.
//
// # Retry policy
//
// Conflicts (store.ErrConflict) are retried immediately and indefinitely by
// default. They are logged at debug level only. Any other error is fatal
// under PolicyStrict and aborts the run with a *WorkerError naming the
// worker and iteration. PolicyLenient logs and retries every error, which
// means a broken backend can stall a run forever.
//
// RetryConfig.MaxAttempts and RetryConfig.Backoff bound the loop and add
// exponential backoff. A bounded run can fail with ErrRetriesExhausted
// where an unbounded one would eventually succeed.
//
// # Outcomes
//
//   - Result.Pass: no fatal errors and final == expected.
//   - *WorkerError: a worker stopped early; the run never passes.
//   - *VerificationFailure: every worker finished but updates were lost.
//   - *MonotonicityViolation: the sampler saw the counter go down. When
//     updates were also lost both errors are returned, joined.
//
// # Suites
//
// A suite YAML file lists runs across backends and levels, each with an
// expectation (pass, lost-updates or any):
//
//	name: isolation-matrix
//	defaults:
//	  workers: 5
//	  iterations: 100
//	  provision: true
//	runs:
//	  - name: sqlite
//	    backend: sqlite
//	    dsn: /tmp/isoharness.db
//	    levels: [read-committed, serializable]
//	  - name: memory-rmw
//	    backend: memory
//	    dsn: rmw?latency=1ms
//	    mode: read-modify-write
//	    levels: [read-committed]
//	    expect: lost-updates
//
// Suites are checked against an embedded CUE schema before they are decoded.
package harness
