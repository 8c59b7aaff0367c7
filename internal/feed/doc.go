// Package feed implements the in-process notification fabric.
//
// A Feed is a typed publish/subscribe channel. State changes, control
// events and connection status all flow through feeds: the shadow tree
// publishes per-entity and tree-wide feeds, and the stream supervisor
// publishes connection status.
//
// Delivery is synchronous and ordered. A handler that panics is
// isolated from its peers, and a handler may unsubscribe itself during
// delivery without corrupting the listener list.
package feed
