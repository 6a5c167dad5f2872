package scheduling

import "sort"

// AvailableSlots partitions each window into granularity-minute candidate
// slots and returns the start of every candidate that fits inside its window
// and overlaps none of the booked intervals. The result is ascending and
// de-duplicated across windows; it is never nil.
func AvailableSlots(windows []Window, booked []Interval, granularity int) []TimeOfDay {
	slots := []TimeOfDay{}
	if granularity <= 0 {
		return slots
	}

	seen := make(map[TimeOfDay]bool)
	for _, w := range windows {
		for start := w.Start; start.AddMinutes(granularity) <= w.End; start = start.AddMinutes(granularity) {
			if seen[start] {
				continue
			}
			candidate := Interval{Start: start, End: start.AddMinutes(granularity)}
			if overlapsAny(candidate, booked) {
				continue
			}
			seen[start] = true
			slots = append(slots, start)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// FitsSchedule reports whether iv lies entirely inside one of the windows.
func FitsSchedule(iv Interval, windows []Window) bool {
	for _, w := range windows {
		if iv.Within(w.Interval()) {
			return true
		}
	}
	return false
}

func overlapsAny(iv Interval, booked []Interval) bool {
	for _, b := range booked {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// blockingIntervals returns the intervals occupied by appointments whose
// status still holds the slot.
func blockingIntervals(appts []*Appointment) []Interval {
	out := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a.Status.BlocksSlot() {
			out = append(out, a.Interval())
		}
	}
	return out
}
