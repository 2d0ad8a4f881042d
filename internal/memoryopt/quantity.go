package memoryopt

import (
	"fmt"
	"strconv"
	"strings"
)

// Quantity is an exact byte count, parsed from and formatted to the
// Kubernetes-style suffixes named in spec.md 9's redesign note: replaces
// ad-hoc string suffix parsing with a dedicated type covering
// {K, M, G, Ki, Mi, Gi} with exact integer byte semantics.
type Quantity int64

const (
	kibi = 1024
	mebi = 1024 * 1024
	gibi = 1024 * 1024 * 1024

	kilo = 1000
	mega = 1000 * 1000
	giga = 1000 * 1000 * 1000
)

// ParseQuantity parses a memory string such as "256Mi", "1.5Gi", or "128"
// (bare bytes) into an exact byte count. An empty string parses to 0; the
// caller supplies the "256Mi unset default" per spec.md 4.F.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	for _, suf := range []struct {
		suffix string
		unit   float64
	}{
		{"Ki", kibi}, {"Mi", mebi}, {"Gi", gibi},
		{"K", kilo}, {"M", mega}, {"G", giga},
	} {
		if strings.HasSuffix(s, suf.suffix) {
			num := strings.TrimSuffix(s, suf.suffix)
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
			}
			return Quantity(int64(f * suf.unit)), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return Quantity(int64(f)), nil
}

// String formats the quantity using the largest binary suffix that divides
// it evenly into a human-sized number, matching the teacher's Ki/Mi/Gi
// rendering convention. Anything not a whole number of Mi is rendered in
// Ki, dropping any remainder below 1Ki.
func (q Quantity) String() string {
	switch {
	case q >= gibi && q%gibi == 0:
		return fmt.Sprintf("%dGi", int64(q)/gibi)
	case q >= mebi && q%mebi == 0:
		return fmt.Sprintf("%dMi", int64(q)/mebi)
	default:
		return fmt.Sprintf("%dKi", int64(q)/kibi)
	}
}

// Mul scales the quantity by a factor, truncating to an integer byte count.
func (q Quantity) Mul(factor float64) Quantity {
	return Quantity(int64(float64(q) * factor))
}

// Clamp bounds the quantity to [lo, hi].
func (q Quantity) Clamp(lo, hi Quantity) Quantity {
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}
