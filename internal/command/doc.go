// Package command issues commands to devices and correlates their
// responses.
//
// A command row is written as PENDING before anything is published, so
// a response can never arrive for a command the store does not know.
// Each command leaves PENDING at most once; later responses for the same
// id are ignored.
//
// The outbound message on {prefix}/{deviceId}/commands is:
//
//	{"id": "<uuid>", "command": "reboot", "payload": {...}, "timestamp": "..."}
package command
