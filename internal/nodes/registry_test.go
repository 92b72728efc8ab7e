package nodes

import (
	"testing"
	"time"

	"github.com/ag3nt-dev/gateway/internal/events"
)

func TestLocalNodeAutoRegistered(t *testing.T) {
	r := NewRegistry(events.New())
	n, ok := r.Get(LocalNodeID)
	if !ok {
		t.Fatal("expected local node to be pre-registered")
	}
	if n.Status != StatusOnline {
		t.Fatalf("local node status = %q, want online", n.Status)
	}
}

func TestCannotUnregisterLocalNode(t *testing.T) {
	r := NewRegistry(events.New())
	if err := r.Unregister(LocalNodeID); err == nil {
		t.Fatal("expected error unregistering local node")
	}
	if _, ok := r.Get(LocalNodeID); !ok {
		t.Fatal("local node must still be present")
	}
}

func TestCannotRegisterReservedID(t *testing.T) {
	r := NewRegistry(events.New())
	if _, err := r.Register(LocalNodeID, "impostor", nil); err == nil {
		t.Fatal("expected error registering a node with the reserved local id")
	}
}

func TestRegisterEmitsConnected(t *testing.T) {
	r := NewRegistry(events.New())

	var got []string
	r.Events().Subscribe(func(ev events.Event) {
		if ev.Name == EventConnected {
			got = append(got, ev.Payload.(ConnectedPayload).NodeID)
		}
	})

	if _, err := r.Register("companion-1", "kitchen-pi", []Capability{CapabilityCamera}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(got) != 1 || got[0] != "companion-1" {
		t.Fatalf("expected one connected event for companion-1, got %v", got)
	}
}

func TestUnregisterEmitsDisconnected(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", nil)

	var got []string
	r.Events().Subscribe(func(ev events.Event) {
		if ev.Name == EventDisconnected {
			got = append(got, ev.Payload.(DisconnectedPayload).NodeID)
		}
	})

	r.Unregister("companion-1")
	if len(got) != 1 || got[0] != "companion-1" {
		t.Fatalf("expected one disconnected event, got %v", got)
	}
	if _, ok := r.Get("companion-1"); ok {
		t.Fatal("expected companion-1 to be gone after Unregister")
	}
}

func TestUnregisterUnknownNodeIsNoop(t *testing.T) {
	r := NewRegistry(events.New())
	var got []string
	r.Events().Subscribe(func(ev events.Event) {
		if ev.Name == EventDisconnected {
			got = append(got, ev.Payload.(DisconnectedPayload).NodeID)
		}
	})
	if err := r.Unregister("never-existed"); err != nil {
		t.Fatalf("Unregister of unknown node: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no disconnected event for an unknown node, got %v", got)
	}
}

func TestUpdateStatusEmitsDisconnectedOnOfflineTransition(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", nil)

	var disconnects int
	r.Events().Subscribe(func(ev events.Event) {
		if ev.Name == EventDisconnected {
			disconnects++
		}
	})

	r.UpdateStatus("companion-1", StatusOffline)
	r.UpdateStatus("companion-1", StatusOffline) // repeat: should not double-fire
	if disconnects != 1 {
		t.Fatalf("disconnect events = %d, want 1", disconnects)
	}
}

func TestByCapabilityAndBestForCapability(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", []Capability{CapabilityCamera})
	r.Register("companion-2", "garage-pi", []Capability{CapabilityCamera, CapabilityClipboard})
	r.UpdateStatus("companion-1", StatusOffline)

	online := r.ByCapability(CapabilityCamera)
	if len(online) != 1 || online[0].NodeID != "companion-2" {
		t.Fatalf("ByCapability(camera) = %v, want only companion-2 (companion-1 offline)", online)
	}

	best, ok := r.BestForCapability(CapabilityClipboard)
	if !ok || best.NodeID != "companion-2" {
		t.Fatalf("BestForCapability(clipboard) = %v, %v, want companion-2", best, ok)
	}

	if _, ok := r.BestForCapability(CapabilityAudioOutput); ok {
		t.Fatal("expected no node to serve audio_output")
	}
}

func TestBestForCapabilityPrefersLocalNode(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", []Capability{CapabilityCamera})
	r.UpdateCapabilities(LocalNodeID, []Capability{CapabilityCamera})

	best, ok := r.BestForCapability(CapabilityCamera)
	if !ok || best.NodeID != LocalNodeID {
		t.Fatalf("BestForCapability(camera) = %v, %v, want the local node preferred over companion-1", best, ok)
	}
}

func TestUpdateCapabilitiesEmitsEvent(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", nil)

	var payload CapabilitiesChangedPayload
	r.Events().Subscribe(func(ev events.Event) {
		if ev.Name == EventCapabilitiesChanged {
			payload = ev.Payload.(CapabilitiesChangedPayload)
		}
	})

	r.UpdateCapabilities("companion-1", []Capability{CapabilityMicrophone})
	if payload.NodeID != "companion-1" || len(payload.Capabilities) != 1 || payload.Capabilities[0] != CapabilityMicrophone {
		t.Fatalf("unexpected capabilities_changed payload: %+v", payload)
	}

	n, _ := r.Get("companion-1")
	if len(n.Capabilities) != 1 || n.Capabilities[0] != CapabilityMicrophone {
		t.Fatalf("node capabilities not updated: %+v", n.Capabilities)
	}
}

func TestAllIncludesLocalAndCompanions(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", nil)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d nodes, want 2 (local + companion-1)", len(all))
	}
}

func TestOnlineExcludesOffline(t *testing.T) {
	r := NewRegistry(events.New())
	r.Register("companion-1", "kitchen-pi", nil)
	r.UpdateStatus("companion-1", StatusOffline)

	online := r.Online()
	for _, n := range online {
		if n.NodeID == "companion-1" {
			t.Fatalf("offline node companion-1 should not appear in Online()")
		}
	}

	n, _ := r.Get("companion-1")
	if time.Since(n.LastSeenAt) > time.Minute {
		t.Fatalf("LastSeenAt not refreshed on UpdateStatus")
	}
}
