// Package protocol implements the JSON wire protocol spoken between a live
// region in the browser and the server.
//
// Every message is a single JSON object carried in one transport frame
// (a WebSocket text message, or one SSE "data:" line on the push fallback).
// The "type" member selects the message kind.
//
// # Client → Server
//
//	{"type":"connect","params":{...}}
//	{"type":"event","event":"inc","liveview_id":"...","params":{...},"target":"..."}
//	{"type":"heartbeat"}
//
// # Server → Client
//
//	{"type":"render","liveview_id":"...","html":"..."}
//	{"type":"patch","diff":[{"type":"replace","old":"...","new":"..."}]}
//	{"type":"redirect","url":"/login"}
//	{"type":"error","message":"..."}
//	{"type":"heartbeat_ack"}
//
// Parameter objects may carry any JSON scalar; values are normalized to
// strings on decode so handlers always see a flat map[string]string.
//
// The codec is stateless and safe for concurrent use.
package protocol
