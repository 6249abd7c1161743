package fed

import (
	"fmt"
	"sort"
)

// TopicDecl is the setup-time binding of a topic: its name, payload type, the
// single federate allowed to publish it, and the federates reading it.
type TopicDecl struct {
	Name        string
	Type        ValueType
	Publisher   FederateID
	Subscribers []FederateID
}

// TopicValue is the latest value released on a topic. Valid is false while
// nothing has been released yet ("no value" sentinel).
type TopicValue struct {
	Value       Value
	PublishedAt SimTime
	Valid       bool
}

type topicState struct {
	decl       TopicDecl
	current    TopicValue // visible to Get
	pending    TopicValue // staged, becomes visible on Release
	hasPending bool
}

// Bus is the federation's typed publish/subscribe topic table. It has no time
// semantics of its own: Publish stages a value and Release makes all staged
// values visible at once, giving barrier semantics per iteration — no
// subscriber observes a peer's value for an iteration until every publisher
// for that iteration has published.
//
// The table is mutated only between step boundaries by the single
// coordination goroutine, so it carries no locking.
type Bus struct {
	topics map[string]*topicState
	sealed bool
}

// NewBus creates an empty, unsealed topic table.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topicState)}
}

// Declare binds a topic name to a payload type and exactly one publisher.
// Declaring an existing name, or declaring after Seal, is a
// TopicAlreadyBoundError.
func (b *Bus) Declare(decl TopicDecl) error {
	if b.sealed {
		return &TopicAlreadyBoundError{Topic: decl.Name}
	}
	if decl.Name == "" {
		return &ConfigurationError{Reason: "topic with empty name"}
	}
	if !KnownValueType(decl.Type) {
		return &ConfigurationError{Reason: fmt.Sprintf("topic %q: unknown value type %q", decl.Name, decl.Type)}
	}
	if prev, exists := b.topics[decl.Name]; exists {
		return &TopicAlreadyBoundError{Topic: decl.Name, Publisher: prev.decl.Publisher}
	}
	b.topics[decl.Name] = &topicState{decl: decl}
	return nil
}

// Subscribe adds a subscriber to an already-declared topic.
func (b *Bus) Subscribe(name string, sub FederateID) error {
	if b.sealed {
		return &TopicAlreadyBoundError{Topic: name}
	}
	ts, ok := b.topics[name]
	if !ok {
		return &UnknownTopicError{Topic: name}
	}
	ts.decl.Subscribers = append(ts.decl.Subscribers, sub)
	return nil
}

// Seal freezes the topic table. Setup calls this once all declarations and
// subscriptions are in place; later rebinding attempts fail.
func (b *Bus) Seal() { b.sealed = true }

// Publish stages a value on a topic. The value stays invisible to Get until
// the next Release. Publishing on an undeclared topic, with a mismatched
// type, or from a federate other than the bound publisher is an error.
func (b *Bus) Publish(name string, from FederateID, v Value, at SimTime) error {
	ts, ok := b.topics[name]
	if !ok {
		return &UnknownTopicError{Topic: name}
	}
	if v.Type != ts.decl.Type {
		return &TypeMismatchError{Topic: name, Declared: ts.decl.Type, Got: v.Type}
	}
	if from != ts.decl.Publisher {
		return fmt.Errorf("topic %q: publish by %q, bound publisher is %q", name, from, ts.decl.Publisher)
	}
	ts.pending = TopicValue{Value: v, PublishedAt: at, Valid: true}
	ts.hasPending = true
	return nil
}

// Get returns the latest released value on a topic. It never blocks; before
// the first Release the returned TopicValue has Valid=false.
func (b *Bus) Get(name string) (TopicValue, error) {
	ts, ok := b.topics[name]
	if !ok {
		return TopicValue{}, &UnknownTopicError{Topic: name}
	}
	return ts.current, nil
}

// Release makes every staged value visible. The runner calls this once per
// iteration, after all granted federates have published.
func (b *Bus) Release() {
	for _, ts := range b.topics {
		if ts.hasPending {
			ts.current = ts.pending
			ts.hasPending = false
		}
	}
}

// DiscardPending drops staged values without releasing them. Used when a step
// is abandoned, so a failed iteration cannot leak partial publishes.
func (b *Bus) DiscardPending() {
	for _, ts := range b.topics {
		ts.hasPending = false
	}
}

// Topics returns the declared topic names in sorted order.
func (b *Bus) Topics() []string {
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decl returns the declaration for a topic.
func (b *Bus) Decl(name string) (TopicDecl, bool) {
	ts, ok := b.topics[name]
	if !ok {
		return TopicDecl{}, false
	}
	return ts.decl, true
}

// Snapshot returns the currently visible value of every topic, keyed by
// topic name. Topics with no released value are omitted.
func (b *Bus) Snapshot() map[string]TopicValue {
	out := make(map[string]TopicValue, len(b.topics))
	for name, ts := range b.topics {
		if ts.current.Valid {
			out[name] = ts.current
		}
	}
	return out
}

// Reset clears all topic values and reopens the table. Teardown calls this to
// release bus resources.
func (b *Bus) Reset() {
	b.topics = make(map[string]*topicState)
	b.sealed = false
}
