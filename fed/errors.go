package fed

import (
	"fmt"
	"time"
)

// TimeOrderingError reports a federate requesting a time earlier than its own
// granted time. This is an adapter bug and is fatal to that federate.
type TimeOrderingError struct {
	Federate  FederateID
	Requested SimTime
	Granted   SimTime
}

func (e *TimeOrderingError) Error() string {
	return fmt.Sprintf("federate %q requested t=%gs behind its granted t=%gs",
		e.Federate, e.Requested.Seconds(), e.Granted.Seconds())
}

// UnknownTopicError reports an operation on a topic that was never declared.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("unknown topic %q", e.Topic)
}

// TypeMismatchError reports a publish whose value type differs from the
// topic's declared type.
type TypeMismatchError struct {
	Topic    string
	Declared ValueType
	Got      ValueType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("topic %q declared %s, published %s", e.Topic, e.Declared, e.Got)
}

// TopicAlreadyBoundError reports an attempt to declare a topic twice or to
// rebind the topic table after setup has sealed it.
type TopicAlreadyBoundError struct {
	Topic     string
	Publisher FederateID
}

func (e *TopicAlreadyBoundError) Error() string {
	if e.Publisher != "" {
		return fmt.Sprintf("topic %q already bound to publisher %q", e.Topic, e.Publisher)
	}
	return fmt.Sprintf("topic %q cannot be bound after setup", e.Topic)
}

// ConfigurationError reports an invalid federation configuration. Setup
// errors abort before Run starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// StepTimeoutError reports a federate whose advance exceeded its wall-clock
// budget. The federate is deregistered; the federation continues if partial
// tolerance is configured.
type StepTimeoutError struct {
	Federate FederateID
	Target   SimTime
	Timeout  time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("federate %q advance to t=%gs exceeded %v",
		e.Federate, e.Target.Seconds(), e.Timeout)
}

// SimulatorError wraps an error raised by the wrapped simulator during
// Advance. Handled like a timeout: the federate is deregistered.
type SimulatorError struct {
	Federate FederateID
	Target   SimTime
	Err      error
}

func (e *SimulatorError) Error() string {
	return fmt.Sprintf("federate %q failed advancing to t=%gs: %v",
		e.Federate, e.Target.Seconds(), e.Err)
}

func (e *SimulatorError) Unwrap() error { return e.Err }
