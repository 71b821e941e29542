// Package synctest provides testing helpers for syncline applications.
//
// The harness drives handlers against a real session without a WebSocket,
// collects the deltas they emit, and simulates disconnect/reconnect cycles
// including full process restarts backed by a store.
//
// # Quick Start
//
//	func TestIncrement(t *testing.T) {
//	    ts := synctest.New(t, schema, registry)
//	    if err := ts.Dispatch("root.increment"); err != nil {
//	        t.Fatal(err)
//	    }
//	    deltas := ts.Deltas(t)
//	    if len(deltas) != 1 {
//	        t.Fatalf("got %d deltas, want 1", len(deltas))
//	    }
//	}
//
// # Lifecycle Simulation
//
//	ts.Dispatch("cart.add", "sku-1")
//	ts.SimulateDisconnect(t)
//	ts.SimulateReconnect(t)
//	// state survives; sequence numbering continues
package synctest
