package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ============================================================
// Intents
// ============================================================

// Direction selects the side of a manual adjustment.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Manual adjustment description prefixes, shown in the history view.
const (
	ManualCreditLabel = "手动发放"
	ManualDebitLabel  = "手动扣除"
)

// RequestTaskRequest is the body of POST /v1/tasks.
type RequestTaskRequest struct {
	HabitID string `json:"habitId"`
}

// ManualAdjustRequest is the body of POST /v1/points/adjust.
type ManualAdjustRequest struct {
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Direction Direction `json:"direction"`
}

// ProfileUpdate is the body of PUT /v1/profile.
type ProfileUpdate struct {
	ChildName string  `json:"childName"`
	ParentPin string  `json:"parentPin"`
	Avatar    *string `json:"avatar"`
}

// HabitPatch carries the fields of a partial habit update; nil fields are untouched.
type HabitPatch struct {
	Name   *string `json:"name,omitempty"`
	Points *int    `json:"points,omitempty"`
	Emoji  *string `json:"emoji,omitempty"`
}

// RewardPatch carries the fields of a partial reward update.
type RewardPatch struct {
	Name  *string `json:"name,omitempty"`
	Cost  *int    `json:"cost,omitempty"`
	Emoji *string `json:"emoji,omitempty"`
	Image *string `json:"image,omitempty"`
}

// DeductionPatch carries the fields of a partial deduction update.
type DeductionPatch struct {
	Name   *string `json:"name,omitempty"`
	Points *int    `json:"points,omitempty"`
	Emoji  *string `json:"emoji,omitempty"`
}

// ============================================================
// Outcomes
// ============================================================

// DecisionOutcome reports what a parent decision did.
type DecisionOutcome string

const (
	OutcomeApproved DecisionOutcome = "approved"
	OutcomeRejected DecisionOutcome = "rejected"
	// OutcomeNoop means the task was already decided (duplicate UI action).
	OutcomeNoop DecisionOutcome = "noop"
)

// TaskDecision is the result of approving or rejecting a pending task.
type TaskDecision struct {
	TaskID      string          `json:"taskId"`
	Outcome     DecisionOutcome `json:"outcome"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	TotalPoints int             `json:"totalPoints"`
}

// PointsResult is returned by every balance-affecting operation.
type PointsResult struct {
	Transaction Transaction `json:"transaction"`
	TotalPoints int         `json:"totalPoints"`
}

// BulkInsertResult summarises a bulk append. BalanceDelta is the signed sum of the
// batch, which was NOT applied to the balance.
type BulkInsertResult struct {
	Inserted     int `json:"inserted"`
	BalanceDelta int `json:"balanceDelta"`
	TotalPoints  int `json:"totalPoints"`
	Transactions int `json:"transactions"`
}

// HabitStatus is one row of the child's "today" view.
type HabitStatus struct {
	Habit
	Completed bool `json:"completed"`
}

// PublicState is the child-facing aggregate view: no PIN, no history.
type PublicState struct {
	ChildName    string        `json:"childName"`
	TotalPoints  int           `json:"totalPoints"`
	Avatar       *string       `json:"avatar"`
	Habits       []Habit       `json:"habits"`
	Rewards      []Reward      `json:"rewards"`
	Deductions   []Deduction   `json:"deductions"`
	PendingTasks []PendingTask `json:"pendingTasks"`
}

// ============================================================
// Import payload
// ============================================================

// DecodeSnapshot parses an exported aggregate. totalPoints must be present and an
// integral JSON number; everything else falls back to defaults or empty collections.
func DecodeSnapshot(raw []byte) (*AppData, error) {
	var probe struct {
		TotalPoints json.RawMessage `json:"totalPoints"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ErrValidation{Field: "body", Message: "malformed snapshot: " + err.Error()}
	}
	tp := bytes.TrimSpace(probe.TotalPoints)
	if len(tp) == 0 || tp[0] == '"' || bytes.Equal(tp, []byte("null")) {
		return nil, &ErrValidation{Field: "totalPoints", Message: "must be a number"}
	}
	if _, err := strconv.Atoi(string(tp)); err != nil {
		return nil, &ErrValidation{Field: "totalPoints", Message: "must be an integer"}
	}

	var data AppData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &ErrValidation{Field: "body", Message: "malformed snapshot: " + err.Error()}
	}
	if data.ChildName == "" {
		data.ChildName = DefaultChildName
	}
	if data.ParentPin == "" {
		data.ParentPin = DefaultParentPin
	}
	for _, tx := range data.Transactions {
		if !tx.Type.Valid() {
			return nil, &ErrValidation{Field: "transactions", Message: "unknown transaction type " + strconv.Quote(string(tx.Type))}
		}
	}
	data.Normalize()
	return &data, nil
}
