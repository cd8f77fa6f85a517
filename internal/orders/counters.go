package orders

// Counters is the available/reserved pair of one inventory record.
type Counters struct {
	Available int
	Reserved  int
}

// Apply moves qty units between available and reserved. Both sides are
// floored at zero, so a stale or bypassed check under/over-credits instead
// of going negative.
func (c Counters) Apply(action Action, qty int) Counters {
	switch action {
	case ActionReserve:
		return Counters{Available: max(0, c.Available-qty), Reserved: c.Reserved + qty}
	case ActionRelease:
		return Counters{Available: c.Available + qty, Reserved: max(0, c.Reserved-qty)}
	}
	return c
}
