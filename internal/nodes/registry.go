// Package nodes implements the NodeRegistry: tracking of the local
// ("primary") node and companion nodes paired in through internal/pairing,
// their capabilities, and online status. Grounded on the teacher's channel
// registry shape in internal/channels.Manager (map + RWMutex + register/
// unregister/status lookups) generalized from channel adapters to
// physical/companion nodes, with state changes broadcast on
// internal/events.Bus per §9's observer-pattern note.
package nodes

import (
	"fmt"
	"sync"
	"time"

	"github.com/ag3nt-dev/gateway/internal/events"
)

// Capability is one of the closed set of actions a node may support, per §4.9.
type Capability string

const (
	CapabilityFileManagement  Capability = "file_management"
	CapabilityAppControl      Capability = "application_control"
	CapabilitySystemInfo      Capability = "system_info"
	CapabilityCodeExecution   Capability = "code_execution"
	CapabilityCamera          Capability = "camera"
	CapabilityMicrophone      Capability = "microphone"
	CapabilityAudioOutput     Capability = "audio_output"
	CapabilityNotifications   Capability = "notifications"
	CapabilityHomeAutomation  Capability = "home_automation"
	CapabilityClipboard       Capability = "clipboard"
	CapabilityScreenCapture   Capability = "screen_capture"
)

// LocalNodeID identifies the gateway's own process as a node, auto-
// registered at NewRegistry construction and never removable.
const LocalNodeID = "primary"

// Status is a node's current connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Event names emitted on the registry's Bus.
const (
	EventConnected            = "connected"
	EventDisconnected         = "disconnected"
	EventCapabilitiesChanged  = "capabilities_changed"
)

// ConnectedPayload, DisconnectedPayload, CapabilitiesChangedPayload
// accompany the registry's events.
type ConnectedPayload struct{ NodeID string }
type DisconnectedPayload struct{ NodeID string }
type CapabilitiesChangedPayload struct {
	NodeID       string
	Capabilities []Capability
}

// Node is one registered node — the local gateway process, or a paired
// companion.
type Node struct {
	NodeID       string
	Name         string
	Capabilities []Capability
	Status       Status
	ConnectedAt  time.Time
	LastSeenAt   time.Time
}

func (n *Node) hasCapability(c Capability) bool {
	for _, have := range n.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

func (n *Node) clone() *Node {
	cp := *n
	cp.Capabilities = append([]Capability(nil), n.Capabilities...)
	return &cp
}

// Registry tracks all known nodes by id.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	bus   *events.Bus
}

// NewRegistry constructs a Registry and auto-registers the local node
// online with a default capability set: file management, application
// control, system info, code execution, and notifications. The other
// capabilities are served only by companions.
func NewRegistry(bus *events.Bus) *Registry {
	if bus == nil {
		bus = events.New()
	}
	r := &Registry{nodes: make(map[string]*Node), bus: bus}
	now := time.Now()
	r.nodes[LocalNodeID] = &Node{
		NodeID: LocalNodeID,
		Name:   "gateway",
		Capabilities: []Capability{
			CapabilityFileManagement, CapabilityAppControl, CapabilitySystemInfo,
			CapabilityCodeExecution, CapabilityNotifications,
		},
		Status:      StatusOnline,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	return r
}

// Events returns the bus node connectivity/capability events are published on.
func (r *Registry) Events() *events.Bus { return r.bus }

// Register adds or replaces a companion node entry as online.
func (r *Registry) Register(nodeID, name string, caps []Capability) (*Node, error) {
	if nodeID == LocalNodeID {
		return nil, fmt.Errorf("nodeID %q is reserved for the local node", LocalNodeID)
	}
	now := time.Now()
	n := &Node{NodeID: nodeID, Name: name, Capabilities: append([]Capability(nil), caps...), Status: StatusOnline, ConnectedAt: now, LastSeenAt: now}

	r.mu.Lock()
	r.nodes[nodeID] = n
	r.mu.Unlock()

	r.bus.Emit(events.Event{Name: EventConnected, Payload: ConnectedPayload{NodeID: nodeID}})
	return n.clone(), nil
}

// Unregister removes a companion node. The local node may never be
// unregistered.
func (r *Registry) Unregister(nodeID string) error {
	if nodeID == LocalNodeID {
		return fmt.Errorf("cannot unregister local node %q", LocalNodeID)
	}
	r.mu.Lock()
	_, existed := r.nodes[nodeID]
	delete(r.nodes, nodeID)
	r.mu.Unlock()

	if existed {
		r.bus.Emit(events.Event{Name: EventDisconnected, Payload: DisconnectedPayload{NodeID: nodeID}})
	}
	return nil
}

// UpdateStatus marks nodeID's connectivity and refreshes LastSeenAt,
// emitting EventDisconnected when transitioning to offline.
func (r *Registry) UpdateStatus(nodeID string, status Status) {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := n.Status
	n.Status = status
	n.LastSeenAt = time.Now()
	r.mu.Unlock()

	if prev != StatusOffline && status == StatusOffline {
		r.bus.Emit(events.Event{Name: EventDisconnected, Payload: DisconnectedPayload{NodeID: nodeID}})
	}
}

// UpdateCapabilities replaces nodeID's capability set and emits
// EventCapabilitiesChanged.
func (r *Registry) UpdateCapabilities(nodeID string, caps []Capability) {
	r.mu.Lock()
	n, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	n.Capabilities = append([]Capability(nil), caps...)
	r.mu.Unlock()

	r.bus.Emit(events.Event{Name: EventCapabilitiesChanged, Payload: CapabilitiesChangedPayload{NodeID: nodeID, Capabilities: caps}})
}

// Get returns nodeID's entry, if present.
func (r *Registry) Get(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// All returns every registered node.
func (r *Registry) All() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.clone())
	}
	return out
}

// Online returns every node currently online.
func (r *Registry) Online() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Status == StatusOnline {
			out = append(out, n.clone())
		}
	}
	return out
}

// ByCapability returns every online node advertising cap.
func (r *Registry) ByCapability(cap Capability) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0)
	for _, n := range r.nodes {
		if n.Status == StatusOnline && n.hasCapability(cap) {
			out = append(out, n.clone())
		}
	}
	return out
}

// BestForCapability picks a single online node advertising cap, per §4.7:
// the local node if it advertises cap, else the first other online node
// that does. It returns false if none qualify.
func (r *Registry) BestForCapability(cap Capability) (*Node, bool) {
	candidates := r.ByCapability(cap)
	if len(candidates) == 0 {
		return nil, false
	}
	for _, n := range candidates {
		if n.NodeID == LocalNodeID {
			return n, true
		}
	}
	return candidates[0], true
}
