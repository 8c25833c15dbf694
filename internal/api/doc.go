// Package api provides the HTTP admin API and WebSocket event stream of the
// zigbee bridge.
//
// It lists the virtual platform devices, exposes their pairing state and
// capability tree, and lets an operator restart or reset a device. Platform
// lifecycle events are pushed to WebSocket clients.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
