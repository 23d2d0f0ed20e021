package domain

import (
	"fmt"
	"slices"
	"time"
)

// TimeLayout is the persisted timestamp format: fixed-width UTC with millisecond
// precision, so that lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// ============================================================
// Catalog
// ============================================================

// Habit is a chore or behaviour the child can claim for points.
type Habit struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	Emoji  string `json:"emoji"`
}

// Reward is a catalog item redeemable for a point cost.
type Reward struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cost  int    `json:"cost"`
	Emoji string `json:"emoji"`
	Image string `json:"image,omitempty"`
}

// Deduction is a quick penalty reason with an associated point cost.
type Deduction struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	Emoji  string `json:"emoji"`
}

// ============================================================
// Workflow & ledger
// ============================================================

// PendingTask is a child's claim awaiting a parent decision.
// HabitID is a snapshot reference, not a foreign key.
type PendingTask struct {
	ID        string    `json:"id"`
	HabitID   string    `json:"habitId"`
	HabitName string    `json:"habitName"`
	Points    int       `json:"points"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxEarn   TransactionType = "earn"
	TxSpend  TransactionType = "spend"
	TxAdjust TransactionType = "adjust"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxEarn, TxSpend, TxAdjust:
		return true
	}
	return false
}

// Transaction is an immutable, append-only ledger record. Amount is always positive;
// the sign is implied by Type.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      int             `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// SignedAmount returns the balance effect of tx: earn credits, spend and adjust debit.
func SignedAmount(tx Transaction) int {
	if tx.Type == TxEarn {
		return tx.Amount
	}
	return -tx.Amount
}

// BalanceDelta sums the signed amounts of txs.
func BalanceDelta(txs []Transaction) int {
	total := 0
	for _, tx := range txs {
		total += SignedAmount(tx)
	}
	return total
}

// IsNewestFirst reports whether txs is ordered by Date descending.
func IsNewestFirst(txs []Transaction) bool {
	for i := 1; i < len(txs); i++ {
		if txs[i].Date.After(txs[i-1].Date) {
			return false
		}
	}
	return true
}

// SortNewestFirst orders txs by Date descending in place. Equal dates keep their
// relative order.
func SortNewestFirst(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int {
		return b.Date.Compare(a.Date)
	})
}

// InsertNewestFirst returns a new slice with tx placed before the first entry that is
// not newer than it. For a fresh transaction that is index 0.
func InsertNewestFirst(txs []Transaction, tx Transaction) []Transaction {
	idx, _ := slices.BinarySearchFunc(txs, tx, func(e, target Transaction) int {
		if e.Date.After(target.Date) {
			return -1
		}
		return 1
	})
	out := make([]Transaction, 0, len(txs)+1)
	out = append(out, txs[:idx]...)
	out = append(out, tx)
	return append(out, txs[idx:]...)
}

// ============================================================
// Aggregate
// ============================================================

// AppData is the household aggregate.
type AppData struct {
	ChildName    string        `json:"childName"`
	ParentPin    string        `json:"parentPin"`
	TotalPoints  int           `json:"totalPoints"`
	Avatar       *string       `json:"avatar"`
	Habits       []Habit       `json:"habits"`
	Rewards      []Reward      `json:"rewards"`
	Deductions   []Deduction   `json:"deductions"`
	PendingTasks []PendingTask `json:"pendingTasks"`
	Transactions []Transaction `json:"transactions"`
}

// Clone returns a copy of d that shares no slices with it.
func (d *AppData) Clone() *AppData {
	c := *d
	if d.Avatar != nil {
		a := *d.Avatar
		c.Avatar = &a
	}
	c.Habits = cloneOrEmpty(d.Habits)
	c.Rewards = cloneOrEmpty(d.Rewards)
	c.Deductions = cloneOrEmpty(d.Deductions)
	c.PendingTasks = cloneOrEmpty(d.PendingTasks)
	c.Transactions = cloneOrEmpty(d.Transactions)
	return &c
}

// Settings extracts the non-transaction state persisted by SaveSettings.
func (d *AppData) Settings() Settings {
	return Settings{
		Profile: Profile{
			ChildName:   d.ChildName,
			ParentPin:   d.ParentPin,
			TotalPoints: d.TotalPoints,
			Avatar:      d.Avatar,
		},
		Habits:       d.Habits,
		Rewards:      d.Rewards,
		Deductions:   d.Deductions,
		PendingTasks: d.PendingTasks,
	}
}

// Normalize replaces nil collections with empty ones and restores the newest-first
// transaction order.
func (d *AppData) Normalize() {
	d.Habits = nonNil(d.Habits)
	d.Rewards = nonNil(d.Rewards)
	d.Deductions = nonNil(d.Deductions)
	d.PendingTasks = nonNil(d.PendingTasks)
	d.Transactions = nonNil(d.Transactions)
	if !IsNewestFirst(d.Transactions) {
		SortNewestFirst(d.Transactions)
	}
}

// Validate checks row contents an import would write: every collection has
// non-empty unique IDs, catalog values and transaction amounts are positive and
// transaction types are known.
func (d *AppData) Validate() error {
	if err := checkIDs("habits", d.Habits, func(h Habit) string { return h.ID }); err != nil {
		return err
	}
	if err := checkIDs("rewards", d.Rewards, func(r Reward) string { return r.ID }); err != nil {
		return err
	}
	if err := checkIDs("deductions", d.Deductions, func(x Deduction) string { return x.ID }); err != nil {
		return err
	}
	if err := checkIDs("pendingTasks", d.PendingTasks, func(t PendingTask) string { return t.ID }); err != nil {
		return err
	}
	if err := checkIDs("transactions", d.Transactions, func(t Transaction) string { return t.ID }); err != nil {
		return err
	}

	for i, h := range d.Habits {
		if h.Points <= 0 {
			return &ErrValidation{Field: fmt.Sprintf("habits[%d].points", i), Message: "must be a positive integer"}
		}
	}
	for i, r := range d.Rewards {
		if r.Cost <= 0 {
			return &ErrValidation{Field: fmt.Sprintf("rewards[%d].cost", i), Message: "must be a positive integer"}
		}
	}
	for i, x := range d.Deductions {
		if x.Points <= 0 {
			return &ErrValidation{Field: fmt.Sprintf("deductions[%d].points", i), Message: "must be a positive integer"}
		}
	}
	for i, tx := range d.Transactions {
		if !tx.Type.Valid() {
			return &ErrValidation{Field: fmt.Sprintf("transactions[%d].type", i), Message: fmt.Sprintf("unknown transaction type %q", tx.Type)}
		}
		if tx.Amount <= 0 {
			return &ErrValidation{Field: fmt.Sprintf("transactions[%d].amount", i), Message: "must be a positive integer"}
		}
	}
	return nil
}

func checkIDs[T any](field string, items []T, idOf func(T) string) error {
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		id := idOf(it)
		if id == "" {
			return &ErrValidation{Field: fmt.Sprintf("%s[%d].id", field, i), Message: "is required"}
		}
		if _, dup := seen[id]; dup {
			return &ErrValidation{Field: fmt.Sprintf("%s[%d].id", field, i), Message: "duplicate id " + id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Profile is the settings row: household configuration plus the running balance.
type Profile struct {
	ChildName   string  `json:"childName"`
	ParentPin   string  `json:"parentPin"`
	TotalPoints int     `json:"totalPoints"`
	Avatar      *string `json:"avatar"`
}

// Settings is the full replace payload for everything except transactions.
type Settings struct {
	Profile
	Habits       []Habit       `json:"habits"`
	Rewards      []Reward      `json:"rewards"`
	Deductions   []Deduction   `json:"deductions"`
	PendingTasks []PendingTask `json:"pendingTasks"`
}

func cloneOrEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clone(s)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
