// Package router converts feed events into quotes and fans them out.
//
// Every quote is written to the latest-quote store and pushed to two
// buffers: an unbounded one drained by the recorder and a bounded one,
// dropping the oldest entries, drained by the WebSocket broadcaster.
package router
