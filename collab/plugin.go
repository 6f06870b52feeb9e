package collab

import (
	"sync"

	"github.com/rankmesh/tbon/internal/status"
)

// PluginHandler answers one topic call for a single plugin.
type PluginHandler func(args []byte) ([]byte, error)

// Plugin is one named, pushed member of a PluginStack, exposing its
// handlers by topic.
type Plugin struct {
	Name     string
	handlers map[string]PluginHandler
}

// NewPlugin constructs a plugin ready to have handlers registered via
// Handle.
func NewPlugin(name string) *Plugin {
	return &Plugin{name, make(map[string]PluginHandler)}
}

// Handle binds topic to handler on this plugin. Re-registering a topic
// replaces the prior handler.
func (p *Plugin) Handle(topic string, handler PluginHandler) *Plugin {
	p.handlers[topic] = handler
	return p
}

// PluginResult is one plugin's answer to a Call, in push order.
type PluginResult struct {
	Plugin  string
	Payload []byte
	Err     error
}

// PluginStack is an ordered collection of named plugins — written
// fresh, as no single pack repo models a stacked-plugin dispatcher;
// its push/call shape follows the same "ordered named components,
// looked up by string key" pattern eventbus.go and rpc.go already use
// for topics and methods.
type PluginStack struct {
	mu      sync.RWMutex
	byName  map[string]*Plugin
	ordered []*Plugin
}

// NewPluginStack constructs an empty stack.
func NewPluginStack() *PluginStack {
	return &PluginStack{byName: make(map[string]*Plugin)}
}

// Push adds plugin to the top of the stack. Pushing a name already
// present fails with Exists.
func (s *PluginStack) Push(p *Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[p.Name]; exists {
		return status.Newf(status.Exists, "collab: plugin %q already pushed", p.Name)
	}
	s.byName[p.Name] = p
	s.ordered = append(s.ordered, p)
	return nil
}

// Remove pops the named plugin out of the stack, wherever it sits.
func (s *PluginStack) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; !exists {
		return status.Newf(status.NotFound, "collab: plugin %q not found", name)
	}
	delete(s.byName, name)
	for i, p := range s.ordered {
		if p.Name == name {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return nil
}

// Call invokes topic on every plugin that has a handler for it, in
// push order, collecting each one's result — plugstack.call(topic,
// args) → status in the core's contract, generalized here to return
// every responder's payload rather than just a pass/fail code, since
// Go callers can trivially reduce a []PluginResult to that if needed.
func (s *PluginStack) Call(topic string, args []byte) []PluginResult {
	s.mu.RLock()
	plugins := make([]*Plugin, len(s.ordered))
	copy(plugins, s.ordered)
	s.mu.RUnlock()

	var results []PluginResult
	for _, p := range plugins {
		handler, ok := p.handlers[topic]
		if !ok {
			continue
		}
		payload, err := handler(args)
		results = append(results, PluginResult{Plugin: p.Name, Payload: payload, Err: err})
	}
	return results
}
