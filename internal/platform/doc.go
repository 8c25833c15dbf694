// Package platform virtualises one physical device as a session on the IoT
// platform broker.
//
// A Platform pairs through an unauthenticated guest session, stores the
// apiKey the platform hands out, then reconnects under its realm. While
// connected it advertises a capability tree of Nodes and Properties, relays
// set messages to property callbacks and publishes telemetry pushed in by
// the caller.
//
// # Lifecycle
//
//	unpaired ── Init ──▶ guest session (prefix/<id>)
//	    ▲                     │ apiKey on $config/apiKey/set
//	    │                     ▼
//	    │ reset          persist, publish paired + disconnected
//	    │ bad apiKey*         │
//	    │                     ▼
//	    └──────────── authenticated session (v2/<realm>/<id>)
//	                          │ restart: reconnect, apiKey kept
//
//	* only when Options.AutoRepair is set
//
// Every session declares the last will <prefix>/<id>/$state = "lost"
// (QoS 1, retained). Sessions are created only through a SessionFactory and
// a new one is opened only after the previous one was ended gracefully.
//
// # Concurrency
//
// Deliveries from the transport are queued and handled by Run in arrival
// order. Public methods and the event loop share one mutex, so transitions
// never overlap. Observers are called with that mutex held.
package platform
