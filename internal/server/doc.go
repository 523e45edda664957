// Package server hosts the Fiber HTTP service, request middleware chain, and
// origin registry glue that wires Host resolution into the proxy handler.
// Control routes under /-/ bypass origin lookup and are registered by the
// routes subpackage.
package server
