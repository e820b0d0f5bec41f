// Package engine defines the multi-transfer engine boundary used by fanout
// and provides a net/http backed implementation of it.
//
// The boundary is step based. A [Multi] holds any number of [Transfer]
// values; each call to [Multi.Perform] advances them and reports how many are
// still active. Finished transfers are drained one at a time with
// [Multi.InfoRead], and [Multi.FDSet] reports the file descriptors the caller
// should watch so it knows when to step again.
//
// [HTTPMulti] runs every transfer on its own goroutine, but all state the
// caller can observe (accumulated bytes, finished results, timings) is handed
// over inside Perform, so callers may treat the engine as single threaded.
// Readiness is signalled through a wake descriptor (an eventfd on Linux, a
// pipe on other unix systems) that appears in the read set while transfers
// are in flight.
//
// Redirects are followed by the engine itself so that every hop contributes
// its own header block to the transfer's header sink. Blocks are separated by
// a blank line, in the order the hops were received.
package engine
