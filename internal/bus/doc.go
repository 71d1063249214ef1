// Package bus carries state-change notifications from the ingestion
// pipeline to real-time subscribers.
//
// Producers publish an Event with a Scope; the transport (the WebSocket
// hub in package api) decides which connected clients receive it.
// Delivery is at-most-once and nothing is persisted, so a client that
// is disconnected when an event is published never sees it.
package bus
