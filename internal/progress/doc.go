// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that scrape components use to report what they are doing. Components
// receive an Emitter at construction time instead of touching global state, so
// tests can capture events with a Recorder.
package progress
