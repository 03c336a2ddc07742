package presence

import "time"

// Interpolator eases a remote cursor from its last displayed position to
// the latest received target over a short fixed duration, so remote
// cursors glide instead of jumping between sparse samples.
type Interpolator struct {
	fromX, fromY float64
	toX, toY     float64
	startedAt    time.Time
	duration     time.Duration
	hasTarget    bool
}

// NewInterpolator creates an interpolator with the given easing duration
// (DefaultInterpolation when zero).
func NewInterpolator(duration time.Duration) *Interpolator {
	if duration == 0 {
		duration = DefaultInterpolation
	}

	return &Interpolator{duration: duration}
}

// SetTarget starts easing from the currently displayed position toward the
// new target. The first target snaps directly.
func (i *Interpolator) SetTarget(x, y float64, now time.Time) {
	if !i.hasTarget {
		i.fromX, i.fromY = x, y
		i.toX, i.toY = x, y
		i.startedAt = now
		i.hasTarget = true

		return
	}

	curX, curY := i.At(now)
	i.fromX, i.fromY = curX, curY
	i.toX, i.toY = x, y
	i.startedAt = now
}

// At returns the displayed position at the given time, advanced linearly
// toward the target and clamped once the easing window has elapsed.
func (i *Interpolator) At(now time.Time) (float64, float64) {
	if !i.hasTarget {
		return 0, 0
	}

	t := float64(now.Sub(i.startedAt)) / float64(i.duration)

	if t >= 1 {
		return i.toX, i.toY
	}

	if t < 0 {
		t = 0
	}

	return i.fromX + (i.toX-i.fromX)*t, i.fromY + (i.toY-i.fromY)*t
}

// Target returns the current easing target.
func (i *Interpolator) Target() (float64, float64, bool) {
	return i.toX, i.toY, i.hasTarget
}
