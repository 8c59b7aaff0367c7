// Package mqtt wraps the Eclipse Paho client for the relay.
//
// The client handles broker connection management, Last Will and
// Testament for offline detection, automatic reconnection, and
// subscription restoration after reconnects. Handler panics are
// recovered and logged so one bad subscriber cannot take down the
// message pump.
//
// Topic hierarchy (see topics.go for builders):
//
//	isyshadow/status/{kind}/{address}     retained entity status
//	isyshadow/control/{kind}/{address}    control events
//	isyshadow/command/{kind}/{address}    inbound commands
//	isyshadow/ack/{kind}/{address}        command acknowledgments
//	isyshadow/connection                  retained stream connection state
//	isyshadow/system/status               client online/offline (LWT)
//
// Broker reconnection is delegated to paho and is independent of the
// controller stream supervisor: losing the broker does not touch the
// event stream, and vice versa.
package mqtt
