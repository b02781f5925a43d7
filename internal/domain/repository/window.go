package repository

import "time"

const day = 24 * time.Hour

// Window is a half-open [From, To) range of whole UTC days. The first day
// is a baseline used only for the volume of the first emitted point.
type Window struct {
	Days int
	From time.Time
	To   time.Time
}

// NewWindow returns the window covering the current day and the previous
// days-1 days, plus one baseline day before them.
func NewWindow(days int, now time.Time) Window {
	if days < 1 {
		days = 1
	}
	today := now.UTC().Truncate(day)
	to := today.Add(day)
	return Window{
		Days: days,
		From: to.Add(-time.Duration(days+1) * day),
		To:   to,
	}
}

// Start returns the first emitted day. Points before it are baseline.
func (w Window) Start() time.Time {
	return w.From.Add(day)
}

// Contains reports whether t falls inside the window, baseline included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}
