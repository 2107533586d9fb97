// Package stream fans routed quotes out to WebSocket clients.
//
// A Hub pops quotes from the router's broadcast queue and sends each one as
// a JSON text message to every connected client whose filter matches. A
// client that falls behind by more than its send buffer is disconnected.
//
// Clients may narrow their feed by sending:
//
//	{"action":"subscribe","keys":["CME:ESZ6"]}
//	{"action":"unsubscribe","keys":["CME:ESZ6"]}
//
// With no keys subscribed a client receives every quote.
package stream
