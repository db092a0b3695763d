package extract

import "strings"

// strategy resolves one field from a raw object. ok is false on a miss.
type strategy[T any] func(raw map[string]any) (T, bool)

// firstOf runs strategies in order and returns the first hit.
func firstOf[T any](raw map[string]any, strategies ...strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(raw); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// optional adapts firstOf to the pointer form used by record fields.
func optional[T any](raw map[string]any, strategies ...strategy[T]) *T {
	if v, ok := firstOf(raw, strategies...); ok {
		return &v
	}
	return nil
}

func text(path ...string) strategy[string] {
	return func(raw map[string]any) (string, bool) {
		return str(at(raw, path...))
	}
}

func number(path ...string) strategy[float64] {
	return func(raw map[string]any) (float64, bool) {
		return num(at(raw, path...))
	}
}

func whole(path ...string) strategy[int] {
	return func(raw map[string]any) (int, bool) {
		return integer(at(raw, path...))
	}
}

func encoded(path ...string) strategy[string] {
	return func(raw map[string]any) (string, bool) {
		return serialize(at(raw, path...))
	}
}

// imageVariant reads an image reference that is either a plain string or an
// object of size variants.
func imageVariant(path ...string) strategy[string] {
	return func(raw map[string]any) (string, bool) {
		v := at(raw, path...)
		if s, ok := v.(string); ok {
			return str(s)
		}
		return firstOf(obj(v), text("large"), text("normal"), text("thumbnail"), text("url"))
	}
}

// positive drops non-positive numbers so "0" is treated as a miss.
func positive(s strategy[float64]) strategy[float64] {
	return func(raw map[string]any) (float64, bool) {
		v, ok := s(raw)
		return v, ok && v > 0
	}
}

// suffixed keeps a string hit only when it ends with suffix.
func suffixed(suffix string, s strategy[string]) strategy[string] {
	return func(raw map[string]any) (string, bool) {
		v, ok := s(raw)
		return v, ok && strings.HasSuffix(strings.ToLower(v), suffix)
	}
}
