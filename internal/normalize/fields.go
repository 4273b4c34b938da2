package normalize

import (
	"encoding/json"
	"math"
	"strings"

	"esports-insights/internal/match"
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// toInt accepts only integral numbers
func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func (f fields) requireString(key string) (string, error) {
	raw, present := f.m[key]
	if !present {
		return "", f.fail(key, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", f.fail(key, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", f.fail(key, "must not be empty")
	}
	return s, nil
}

func (f fields) optionalString(key string) string {
	s, _ := f.m[key].(string)
	return strings.TrimSpace(s)
}

func (f fields) requireBool(key string) (bool, error) {
	raw, present := f.m[key]
	if !present {
		return false, f.fail(key, "is required")
	}
	b, ok := raw.(bool)
	if !ok {
		return false, f.fail(key, "must be a boolean")
	}
	return b, nil
}

func (f fields) optionalBool(key string) (bool, error) {
	if _, present := f.m[key]; !present {
		return false, nil
	}
	return f.requireBool(key)
}

func (f fields) requirePositiveInt(key string) (int, error) {
	raw, present := f.m[key]
	if !present {
		return 0, f.fail(key, "is required")
	}
	n, ok := toInt(raw)
	if !ok || n < 1 {
		return 0, f.fail(key, "must be a positive integer")
	}
	return n, nil
}

func (f fields) optionalPositiveInt(key string) (int, error) {
	if _, present := f.m[key]; !present {
		return 0, nil
	}
	return f.requirePositiveInt(key)
}

func (f fields) optionalNonNegativeInt(key string) (int, error) {
	raw, present := f.m[key]
	if !present {
		return 0, nil
	}
	n, ok := toInt(raw)
	if !ok || n < 0 {
		return 0, f.fail(key, "must be a non-negative integer")
	}
	return n, nil
}

func (f fields) optionalNumber(key string, min, max float64) (float64, error) {
	raw, present := f.m[key]
	if !present {
		return 0, nil
	}
	v, ok := toFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v < min || v > max {
		return 0, f.fail(key, "is out of range")
	}
	return v, nil
}

// optionalRound copies payload.round onto the event when present
func (f fields) optionalRound(evt *match.CanonicalEvent) error {
	round, err := f.optionalPositiveInt("round")
	if err != nil {
		return err
	}
	if round > 0 {
		evt.Round = match.IntPtr(round)
	}
	return nil
}

// requireCredits reads a name->amount object. Amounts must be non-negative
// integers; the validator already checked the shape, this re-checks the values.
func (f fields) requireCredits(key string) (map[string]int, error) {
	raw, present := f.m[key]
	if !present {
		return nil, f.fail(key, "is required")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, f.fail(key, "must be an object")
	}
	out := make(map[string]int, len(obj))
	for name, v := range obj {
		if strings.TrimSpace(name) == "" {
			return nil, f.fail(key, "must not contain empty keys")
		}
		n, ok := toInt(v)
		if !ok || n < 0 {
			return nil, f.fail(key+"."+name, "must be a non-negative integer")
		}
		out[name] = n
	}
	return out, nil
}
