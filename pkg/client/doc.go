// Package client is a Go client for live regions served by pkg/server.
//
// It speaks the same protocol as the browser runtime: it connects over a
// WebSocket, keeps a local copy of the region that render messages replace
// and patch messages update, sends heartbeats, and turns interactions on
// bound elements into event messages.
//
// # Reconnects
//
// Reconnection is an explicit state machine (Controller) driven by a
// Scheduler:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//
// A clean close moves to Disconnected. An unclean close schedules retry n
// after Backoff.Delay(n) = Base * 2^(n-1), capped at Max. Every retry
// presents the session id so the server resumes the session instead of
// mounting a new one. When Backoff.MaxAttempts retries have failed the
// client stops and reports a single fatal error.
//
// # Bindings
//
// Elements opt into events with lv-click, lv-submit, lv-change, lv-blur,
// lv-focus, lv-keydown and lv-keyup. Attributes named lv-value-<key> and
// the element's own name/value become event params:
//
//	<button id="del-7" lv-click="delete" lv-value-id="7">x</button>
//
// Usage:
//
//	c := client.New(client.DefaultConfig("ws://localhost:8080/live/ws"), client.Handlers{
//	    OnPatch: func(html string) { fmt.Println(html) },
//	})
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Close()
//	c.Trigger(ctx, client.Interaction{Trigger: client.Click, ID: "del-7"})
package client
