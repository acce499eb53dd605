package hostbridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/status"
)

// Event types
const (
	EventInput  = "input"  // Named host value changed
	EventStatus = "status" // Status line rendered
	EventResult = "result" // Decoded result shown or hidden
)

// clientBuffer is sized so a subscriber can absorb the state replay plus a
// decode burst without dropping.
const clientBuffer = 16

// Event is one host notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Value     string         `json:"value,omitempty"`
	Visible   *bool          `json:"visible,omitempty"`
	Status    *status.Render `json:"status,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Event        Event
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct (base64 encoded for SSE)
}

// Hub is the host side of the scanner: it stores the latest value per host
// channel, the last status line and the result display, and fans every change
// out to subscribers.
//
// Hub implements reporter.Host and status.Region.
type Hub struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool

	values     map[string]string
	lastStatus *status.Render
	resultText string
	resultShow bool

	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, log *logger.Logger) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		clients: make(map[int]chan *SerializedEvent),
		values:  make(map[string]string),
		metrics: m,
		log:     log,
	}
}

// SetInputValue records a host channel value and broadcasts it.
func (h *Hub) SetInputValue(name, value string) {
	h.publish(Event{Type: EventInput, Name: name, Value: value}, func() {
		h.values[name] = value
	})
}

// RenderStatus records the status line and broadcasts it.
func (h *Hub) RenderStatus(r status.Render) {
	h.publish(Event{Type: EventStatus, Status: &r}, func() {
		h.lastStatus = &r
	})
}

// ShowResult makes the result display visible with text.
func (h *Hub) ShowResult(text string) {
	visible := true
	h.publish(Event{Type: EventResult, Value: text, Visible: &visible}, func() {
		h.resultText = text
		h.resultShow = true
	})
}

// HideResult hides the result display. The last text is kept.
func (h *Hub) HideResult() {
	visible := false
	h.publish(Event{Type: EventResult, Visible: &visible}, func() {
		h.resultShow = false
	})
}

// Values returns a copy of the latest value per host channel.
func (h *Hub) Values() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// LastStatus returns the most recent status render.
func (h *Hub) LastStatus() (status.Render, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastStatus == nil {
		return status.Render{}, false
	}
	return *h.lastStatus, true
}

// Result returns the result display state.
func (h *Hub) Result() (text string, visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resultText, h.resultShow
}

// Subscribe adds a new client and returns a channel for receiving events.
// The current state is queued first so late subscribers catch up.
func (h *Hub) Subscribe() (int, <-chan *SerializedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan *SerializedEvent, clientBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}

	for _, ev := range h.replayLocked() {
		if se, err := serialize(ev); err == nil {
			ch <- se
		}
	}
	h.clients[id] = ch
	h.metrics.AddSubscribers(1)

	h.log.Debug("HostBridge", "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.metrics.AddSubscribers(-1)
		h.log.Debug("HostBridge", "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
		h.metrics.AddSubscribers(-1)
	}
}

// replayLocked rebuilds the current state as events, values in name order.
func (h *Hub) replayLocked() []Event {
	var events []Event
	names := make([]string, 0, len(h.values))
	for name := range h.values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		events = append(events, stamp(Event{Type: EventInput, Name: name, Value: h.values[name]}))
	}
	if h.lastStatus != nil {
		r := *h.lastStatus
		events = append(events, stamp(Event{Type: EventStatus, Status: &r}))
	}
	if h.resultShow {
		visible := true
		events = append(events, stamp(Event{Type: EventResult, Value: h.resultText, Visible: &visible}))
	}
	return events
}

func (h *Hub) publish(ev Event, apply func()) {
	se, err := serialize(stamp(ev))
	if err != nil {
		h.log.Error("HostBridge", "Serialize %s event: %v", ev.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	apply()
	if se == nil {
		return
	}
	h.metrics.HostEvents.Add(1)
	for id, ch := range h.clients {
		select {
		case ch <- se:
		default:
			// Client too slow, skip this event for this client
			h.metrics.HostDropped.Add(1)
			h.log.Warn("HostBridge", "Client #%d too slow, dropped %s event", id, ev.Type)
		}
	}
}

func stamp(ev Event) Event {
	ev.ID = uuid.NewString()
	ev.Timestamp = float64(time.Now().UnixNano()) / 1e9
	return ev
}

// serialize pre-serializes ev to JSON and to a protobuf Struct.
func serialize(ev Event) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	pbEvent, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Event:        ev,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
