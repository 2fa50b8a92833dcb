package inbound

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-reconciler/webhooks"
)

// EventTypeParser reads the event name out of a raw delivery body.
type EventTypeParser func(body []byte) (string, error)

// Route binds a provider to the processor that verifies, dedupes and handles
// its deliveries.
type Route struct {
	ProviderID string
	Processor  *webhooks.Processor
	EventType  EventTypeParser
}

type Router struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func NewRouter(routes ...Route) (*Router, error) {
	router := &Router{routes: map[string]Route{}}
	for _, route := range routes {
		if err := router.Register(route); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func (r *Router) Register(route Route) error {
	if r == nil {
		return inboundInternal("inbound: router is nil", nil)
	}
	route.ProviderID = strings.TrimSpace(route.ProviderID)
	if route.ProviderID == "" {
		return inboundBadInput("inbound: route provider id is required", nil)
	}
	if route.Processor == nil {
		return inboundBadInput("inbound: route processor is required", map[string]any{"provider_id": route.ProviderID})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[route.ProviderID]; exists {
		return fmt.Errorf("inbound: route already registered for provider %q", route.ProviderID)
	}
	r.routes[route.ProviderID] = route
	return nil
}

func (r *Router) Lookup(providerID string) (Route, bool) {
	if r == nil {
		return Route{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[strings.TrimSpace(providerID)]
	return route, ok
}
