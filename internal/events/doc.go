// Package events owns the streaming connection to the controller and
// the synchronization of its event stream into the shadow tree.
//
// # Architecture
//
// Four layers, leaf-first:
//
//   - Decode: pure translation of one raw XML frame into a typed
//     Event. Malformed frames are dropped, never fatal.
//   - Transport: one persistent connection, either the websocket push
//     socket (/rest/subscribe) or the legacy TCP SOAP subscription
//     socket for older firmware.
//   - Session: reads frames in a loop, decodes each and applies the
//     result to the shadow tree. A transport failure is fatal to the
//     session; it surfaces one error to its owner and never retries.
//   - Supervisor: the reconnect state machine. Watches the live
//     session for errors and heartbeat silence, applies capped
//     exponential backoff, and opens replacement sessions. Publishes
//     connected/disconnected/reconnecting on its status feed.
//
// # Liveness
//
// The controller sends a heartbeat frame roughly every 30 seconds. The
// watchdog treats any frame as a liveness signal; silence beyond the
// heartbeat interval plus grace force-closes the session even though
// the socket never reported an error. Sockets do not always surface a
// silently dead peer as a read error.
//
// # Usage
//
//	tree := shadow.NewTree(logger)
//	sup := events.NewSupervisor(cfg, func() events.StreamSession {
//	    return events.NewSession(events.NewWebSocketTransport(tcfg), tree, logger)
//	}, logger)
//	sup.SubscribeStatus(func(st events.ConnectionStatus) { ... })
//	go sup.Run(ctx)
package events
