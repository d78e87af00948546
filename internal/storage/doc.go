// Package storage keeps the history of dispatch runs: one row per run and
// one per delivery attempt. Recorder fills it from the event bus.
package storage
