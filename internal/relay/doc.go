// Package relay mirrors the shadow tree onto an MQTT broker and turns
// inbound broker commands into controller REST calls.
//
// Outbound flow:
//   - Every status change publishes a retained StatusMessage, so new
//     subscribers immediately see the current value.
//   - Every control event publishes a non-retained ControlMessage,
//     repeats included, because controls are transient.
//   - Stream connection transitions publish a retained
//     ConnectionMessage so dashboards can tell live from stale.
//
// Inbound flow:
//   - CommandMessages on isyshadow/command/{kind}/{address} are
//     validated and forwarded to the controller. Each command gets an
//     AckMessage stating whether it was accepted; the resulting state
//     change arrives later through the event stream and is published
//     like any other update. No optimistic echo.
//
// The relay does not own the broker connection: the mqtt package
// reconnects on its own and restores the command subscription.
package relay
