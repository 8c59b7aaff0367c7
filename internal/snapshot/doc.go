// Package snapshot fetches the controller's full entity inventory
// over REST and converts it into shadow tree seed entries.
//
// The snapshot runs once at startup before the event stream opens,
// and optionally again after each reconnect when reseeding is
// enabled.
package snapshot
