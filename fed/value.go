package fed

import "math"

// SimTime is simulation time in seconds since the federation epoch.
// Granted times are monotonically non-decreasing per federate.
type SimTime float64

// Seconds returns the time as a plain float64.
func (t SimTime) Seconds() float64 { return float64(t) }

// FederateID identifies one federate in the federation.
type FederateID string

// ValueType tags the payload kind a topic carries. Publishing a value whose
// type differs from the topic's declared type is a TypeMismatchError.
type ValueType string

const (
	TypeFloat     ValueType = "float"
	TypeString    ValueType = "string"
	TypeFloatMap  ValueType = "float_map"
	TypeStringMap ValueType = "string_map"
)

// KnownValueType reports whether vt is one of the declared payload kinds.
func KnownValueType(vt ValueType) bool {
	switch vt {
	case TypeFloat, TypeString, TypeFloatMap, TypeStringMap:
		return true
	}
	return false
}

// Value is a typed payload exchanged over the bus. Exactly one of the payload
// fields is meaningful, selected by Type.
type Value struct {
	Type     ValueType
	Float    float64
	Str      string
	FloatMap map[string]float64
	StrMap   map[string]string
}

// FloatValue wraps a scalar sensor reading.
func FloatValue(f float64) Value { return Value{Type: TypeFloat, Float: f} }

// StringValue wraps a scalar string, e.g. a single actuator state.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// FloatMapValue wraps a named set of readings, e.g. {"TANK1": 3.14}.
func FloatMapValue(m map[string]float64) Value { return Value{Type: TypeFloatMap, FloatMap: m} }

// StringMapValue wraps a named set of actuator states, e.g. {"PUMP1": "OPEN"}.
func StringMapValue(m map[string]string) Value { return Value{Type: TypeStringMap, StrMap: m} }

// Delta measures how far two values of the same type are apart, for
// convergence checks. Scalar floats use absolute difference; float maps use
// the maximum absolute difference across the union of keys (a key present on
// one side only counts as +Inf); string payloads are either identical (0) or
// not (+Inf). Values of differing types are infinitely apart.
func Delta(a, b Value) float64 {
	if a.Type != b.Type {
		return math.Inf(1)
	}
	switch a.Type {
	case TypeFloat:
		return math.Abs(a.Float - b.Float)
	case TypeString:
		if a.Str == b.Str {
			return 0
		}
		return math.Inf(1)
	case TypeFloatMap:
		max := 0.0
		for k, av := range a.FloatMap {
			bv, ok := b.FloatMap[k]
			if !ok {
				return math.Inf(1)
			}
			if d := math.Abs(av - bv); d > max {
				max = d
			}
		}
		for k := range b.FloatMap {
			if _, ok := a.FloatMap[k]; !ok {
				return math.Inf(1)
			}
		}
		return max
	case TypeStringMap:
		if len(a.StrMap) != len(b.StrMap) {
			return math.Inf(1)
		}
		for k, av := range a.StrMap {
			if bv, ok := b.StrMap[k]; !ok || av != bv {
				return math.Inf(1)
			}
		}
		return 0
	}
	return math.Inf(1)
}
