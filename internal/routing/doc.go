// Package routing classifies intercepted requests and dispatches them to the
// strategy handler registered for their class. Classification is a pure
// function of origin, navigation mode, path and method.
package routing
