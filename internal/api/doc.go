// Package api serves the feed's HTTP interface with gin.
//
// Routes:
//   - GET    /health                  liveness and quote store reachability
//   - GET    /status                  feed state and component counters
//   - GET    /subscriptions           desired instruments and their state
//   - POST   /subscriptions           add {"symbol","exchange"}
//   - DELETE /subscriptions/:symbol   remove, ?exchange= selects the exchange
//   - GET    /quotes                  every latest quote, sorted by key
//   - GET    /quotes/:symbol          one latest quote, ?exchange= as above
//   - GET    /definitions             security definitions received so far
//   - POST   /definitions             request a definition {"symbol","exchange"}
//   - GET    /ws                      live quote stream (WebSocket)
package api
