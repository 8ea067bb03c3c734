// Package monitor provides a client for the lessond HTTP API and a
// terminal dashboard that polls it.
package monitor
