// Package loop provides the single-threaded host event loop that drives a
// fanout client.
//
// A [Loop] owns a timer heap, a set of file descriptor watchers and a queue
// of submitted functions. Every callback runs on the goroutine that called
// [Loop.Run], so code scheduled through the loop never needs locks for state
// it shares only with other loop callbacks.
//
// The [Host] interface is the subset of the loop that a client depends on.
// Tests substitute a hand-driven implementation.
//
// Only Linux is supported by [New]; the poller is built on epoll with an
// eventfd for cross-goroutine wakeups.
package loop
