// Package reactor implements the single-threaded cooperative event loop
// that every broker-side component in tbon is built on: one-shot and
// repeating timers, file-descriptor readiness watchers, and a
// thread-safe way to wake the loop from another goroutine.
//
// There is exactly one Loop per broker. All callbacks registered with a
// Loop run on the goroutine that calls Run — timers, FD watchers, and
// Submit callbacks never run concurrently with each other. Code that
// needs to reach the loop from another goroutine (an interthread
// channel's producer side, for example) uses Submit, which is the only
// thread-safe entry point.
//
// I/O readiness is implemented with the platform's native polling
// mechanism:
//   - Linux: epoll
//   - Darwin: kqueue
//   - Windows: IOCP
package reactor
