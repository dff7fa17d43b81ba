// Package signal turns raw condition series into entry signals.
package signal

// DefaultBars is the number of consecutive true bars an entry needs.
const DefaultBars = 2

// Debounce returns signal[i] = cond[i] && cond[i-1] && ... over the last
// bars values. The first bars-1 positions never signal. bars <= 1 passes
// cond through unchanged.
func Debounce(cond []bool, bars int) []bool {
	out := make([]bool, len(cond))
	if bars <= 1 {
		copy(out, cond)
		return out
	}
	run := 0
	for i, c := range cond {
		if c {
			run++
		} else {
			run = 0
		}
		out[i] = run >= bars
	}
	return out
}

// Count returns the number of true values.
func Count(s []bool) int {
	n := 0
	for _, v := range s {
		if v {
			n++
		}
	}
	return n
}
