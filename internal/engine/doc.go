// Package engine provides the workflow coordinator. It validates workflow
// definitions against the executor registry, runs each workflow run on its
// own goroutine, executes steps strictly in order with a per-step deadline,
// aborts on the first failure, and publishes lifecycle events and
// best-effort snapshots as runs progress.
//
// Timeouts and Stop do not interrupt an executor that is already running.
// The executor's context expires at the step deadline, but an executor that
// ignores it keeps running after the run has been marked failed, and its
// side effects may still happen. Its late result is discarded.
package engine
