// Package poller turns configured jobs into fanout requests.
//
// A [Scheduler] submits every job once on start, then resubmits jobs that
// carry an interval on a tick-and-check timer whose period is the GCD of
// those intervals. Each finished request is classified into a [Status] and
// handed to a store.Recorder.
//
// The scheduler runs on the host loop goroutine alongside the fanout client
// and is not safe for concurrent use.
package poller
