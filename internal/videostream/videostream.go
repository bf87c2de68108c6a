// Package videostream implements the stream router: fan-out of a device's
// H.264 frames to every controller attached to its session, through
// bounded per-controller queues that drop the oldest frame under pressure.
package videostream

import "sync"

// MaxQueueSize is the per-controller frame queue capacity, roughly one
// second of video at 30 fps.
const MaxQueueSize = 30

// Stats summarizes a session's stream activity.
type Stats struct {
	TotalFrames   uint64
	TotalBytes    uint64
	AvgFrameSize  float64
	DroppedFrames uint64
}

// endpoint is one session's streaming state: the device that feeds it and
// the controllers draining from it. Frame buffers are shared by reference
// across every controller's queue — cloned once per route_frame call, not
// once per controller.
type endpoint struct {
	mu          sync.Mutex
	deviceID    string
	controllers map[string]struct{}
	queues      map[string][][]byte
	stats       Stats
}

// Router owns every session's endpoint. The outer lock guards the endpoint
// map; each endpoint has its own inner lock for queue operations. Outer is
// never held while an inner lock is acquired.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
}

// New creates an empty Router.
func New() *Router {
	return &Router{endpoints: make(map[string]*endpoint)}
}

func (r *Router) endpointFor(sessionID string) *endpoint {
	r.mu.RLock()
	ep, ok := r.endpoints[sessionID]
	r.mu.RUnlock()
	if ok {
		return ep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok = r.endpoints[sessionID]
	if ok {
		return ep
	}
	ep = &endpoint{
		controllers: make(map[string]struct{}),
		queues:      make(map[string][][]byte),
	}
	r.endpoints[sessionID] = ep
	return ep
}

// RegisterDevice binds deviceID as the frame source for sessionID.
func (r *Router) RegisterDevice(sessionID, deviceID string) {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.deviceID = deviceID
}

// RegisterController attaches controllerID to sessionID's fan-out, giving
// it a fresh empty queue.
func (r *Router) RegisterController(sessionID, controllerID string) {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.controllers[controllerID] = struct{}{}
	if _, ok := ep.queues[controllerID]; !ok {
		ep.queues[controllerID] = nil
	}
}

// UnregisterDevice clears the device binding for sessionID (the endpoint
// itself is left in place so already-queued frames can still be drained).
func (r *Router) UnregisterDevice(sessionID string) {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.deviceID = ""
}

// UnregisterController detaches controllerID from sessionID and drops its
// queue.
func (r *Router) UnregisterController(sessionID, controllerID string) {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	delete(ep.controllers, controllerID)
	delete(ep.queues, controllerID)
}

// RouteFrame pushes frame onto every attached controller's queue for
// sessionID, dropping the oldest entry first when a queue is already at
// MaxQueueSize. frame is copied once and that copy is shared by reference
// across every queue it lands in, so callers may reuse frame afterward.
func (r *Router) RouteFrame(sessionID string, frame []byte) {
	frame = append([]byte(nil), frame...)

	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()

	for controllerID := range ep.controllers {
		q := ep.queues[controllerID]
		if len(q) >= MaxQueueSize {
			q = q[1:]
			ep.stats.DroppedFrames++
		}
		ep.queues[controllerID] = append(q, frame)
	}

	ep.stats.TotalFrames++
	ep.stats.TotalBytes += uint64(len(frame))
	ep.stats.AvgFrameSize = float64(ep.stats.TotalBytes) / float64(ep.stats.TotalFrames)
}

// GetFrame pops the oldest queued frame for controllerID on sessionID, or
// returns ok=false if its queue is empty.
func (r *Router) GetFrame(sessionID, controllerID string) (frame []byte, ok bool) {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()

	q := ep.queues[controllerID]
	if len(q) == 0 {
		return nil, false
	}
	frame = q[0]
	ep.queues[controllerID] = q[1:]
	return frame, true
}

// Stats returns a snapshot of sessionID's stream statistics.
func (r *Router) Stats(sessionID string) Stats {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.stats
}

// QueueLen returns the current queue depth for controllerID on sessionID,
// chiefly for tests asserting the MaxQueueSize invariant.
func (r *Router) QueueLen(sessionID, controllerID string) int {
	ep := r.endpointFor(sessionID)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.queues[controllerID])
}

// RemoveSession drops a session's endpoint entirely, e.g. once the session
// registry has closed it and every controller has been notified.
func (r *Router) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, sessionID)
}

// TotalDroppedFrames sums DroppedFrames across every live session endpoint,
// for operational visibility (relay.Server.Stats).
func (r *Router) TotalDroppedFrames() uint64 {
	r.mu.RLock()
	endpoints := make([]*endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		endpoints = append(endpoints, ep)
	}
	r.mu.RUnlock()

	var total uint64
	for _, ep := range endpoints {
		ep.mu.Lock()
		total += ep.stats.DroppedFrames
		ep.mu.Unlock()
	}
	return total
}
