// Package vtest provides testing helpers for live views.
//
// The harness runs a view through the real dispatcher and session
// registry without a network. Each outcome is applied to a client-side
// copy of the region, so every test also checks that the patches the
// server produced rebuild exactly what it rendered.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    lv := vtest.Mount(t, counter.View())
//	    lv.Click("inc")
//	    lv.Click("inc")
//	    vtest.ExpectContains(t, lv.HTML(), `<span id="count">2</span>`)
//	}
//
// # Interactions
//
// Click, Submit and Change resolve bindings the way the browser does:
// lv-value-* attributes and the element's name/value become params.
//
//	lv.Change("title", "Buy milk")
//	lv.Submit("new-todo")
//
// Send dispatches an event by name when there is no element to click.
//
// # Lifecycle
//
// Disconnects, resumes, restarts and expiry can be simulated:
//
//	lv.SimulateDisconnect()
//	lv.AssertPersisted(t)
//	if err := lv.SimulateReconnect(); err != nil {
//	    t.Fatalf("resume: %v", err)
//	}
//
//	lv.SimulateDisconnect()
//	lv.SimulateTimeout()
//	err := lv.SimulateReconnect() // server.ErrSessionNotFound, fresh mount
package vtest
