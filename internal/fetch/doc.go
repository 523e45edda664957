// Package fetch holds the request/response snapshots that flow between the
// proxy surface, the routing policy and the cache strategies, together with
// the shared upstream http.Client. Snapshots are fully buffered so a response
// can be stored and replayed without re-reading a network stream.
package fetch
