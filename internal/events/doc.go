// Package events publishes job lifecycle events.
//
// Bus keeps a bounded, sequenced buffer of recent events and fans each one
// out to registered sinks: the websocket Hub served at /api/events and,
// when configured, a Redis pub/sub channel. Sinks run outside the bus lock
// and must not block for long.
package events
