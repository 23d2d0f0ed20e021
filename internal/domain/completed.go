package domain

import "time"

// CompletionInput is an immutable view of the state the completed-today set is
// derived from.
type CompletionInput struct {
	Habits       []Habit
	PendingTasks []PendingTask
	Transactions []Transaction
	Now          time.Time

	// TransactionsSorted asserts Transactions is newest-first. Only then may the scan
	// stop at the first entry dated before today.
	TransactionsSorted bool
}

// CompletedToday returns the IDs of habits the child has already claimed or been
// credited for on Now's calendar date (in Now's location).
//
// A pending task created today marks its habit. An earn transaction dated today marks
// the first habit, in catalog order, whose name equals the transaction description;
// duplicate names or renamed habits are attributed by their current name only.
func CompletedToday(in CompletionInput) map[string]struct{} {
	loc := in.Now.Location()
	startOfDay := StartOfDay(in.Now)
	endOfDay := startOfDay.AddDate(0, 0, 1)
	done := make(map[string]struct{})

	for _, t := range in.PendingTasks {
		if SameDay(t.Timestamp.In(loc), in.Now) {
			done[t.HabitID] = struct{}{}
		}
	}

	var byName map[string]string
	for _, tx := range in.Transactions {
		d := tx.Date.In(loc)
		if d.Before(startOfDay) {
			if in.TransactionsSorted {
				break
			}
			continue
		}
		if !d.Before(endOfDay) || tx.Type != TxEarn {
			continue
		}
		if byName == nil {
			byName = habitsByName(in.Habits)
		}
		if id, ok := byName[tx.Description]; ok {
			done[id] = struct{}{}
		}
	}
	return done
}

// StartOfDay returns midnight of t's calendar date in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar date in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// habitsByName maps each name to the first habit carrying it.
func habitsByName(habits []Habit) map[string]string {
	m := make(map[string]string, len(habits))
	for _, h := range habits {
		if _, seen := m[h.Name]; !seen {
			m[h.Name] = h.ID
		}
	}
	return m
}
