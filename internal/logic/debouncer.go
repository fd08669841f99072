package logic

import "time"

// Debouncer turns raw button samples into toggle and decommission actions.
// A press shorter than the debounce window is ignored, a release after it
// toggles, and holding past the long-press threshold requests a
// decommission exactly once per physical hold.
type Debouncer struct {
	debounce  time.Duration
	longPress time.Duration
	state     ButtonState
	since     time.Time
	counts    ActionCounts
}

// NewDebouncer creates a debouncer with the given window and long-press threshold.
// Non-positive values fall back to the defaults.
func NewDebouncer(debounce, longPress time.Duration) *Debouncer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if longPress <= 0 {
		longPress = DefaultLongPress
	}
	return &Debouncer{
		debounce:  debounce,
		longPress: longPress,
		state:     StateReleased,
	}
}

// Process takes a new button sample and returns the action it triggers, if any.
func (d *Debouncer) Process(input Input) Action {
	switch d.state {
	case StateReleased:
		if input.Pressed {
			d.state = StatePressed
			d.since = input.Time
		}
		return ActionNone

	case StatePressed:
		held := input.Time.Sub(d.since)
		if !input.Pressed {
			d.state = StateReleased
			if held > d.debounce {
				d.counts.Toggles++
				return ActionToggle
			}
			d.counts.Bounces++
			return ActionNone
		}
		if held > d.longPress {
			d.state = StateHeldLong
			// Restart the timer so the hold cannot fire again on the next tick.
			d.since = input.Time
			d.counts.Decommissions++
			return ActionDecommission
		}
		return ActionNone

	case StateHeldLong:
		if !input.Pressed {
			d.state = StateReleased
		}
		return ActionNone
	}
	return ActionNone
}

// Reset forgets any press in progress.
func (d *Debouncer) Reset() {
	d.state = StateReleased
	d.since = time.Time{}
}

// State returns the current position in the press state machine.
func (d *Debouncer) State() ButtonState {
	return d.state
}

// PressedSince returns when the current press (or hold timer) started.
// Zero when released.
func (d *Debouncer) PressedSince() time.Time {
	if d.state == StateReleased {
		return time.Time{}
	}
	return d.since
}

// Counts returns a copy of the emitted action counters.
func (d *Debouncer) Counts() ActionCounts {
	return d.counts
}
