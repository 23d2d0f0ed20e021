package domain

// Seed values restored by a reset and written on first start.
const (
	DefaultChildName = "宝贝"
	DefaultParentPin = "0000"
)

// DefaultHabits returns the seed habit catalog.
func DefaultHabits() []Habit {
	return []Habit{
		{ID: "1", Name: "打扫房间", Points: 10, Emoji: "🧹"},
		{ID: "2", Name: "认真刷牙", Points: 5, Emoji: "🦷"},
		{ID: "3", Name: "吃蔬菜", Points: 5, Emoji: "🥦"},
	}
}

// DefaultRewards returns the seed reward catalog.
func DefaultRewards() []Reward {
	return []Reward{
		{ID: "1", Name: "看电视30分钟", Cost: 50, Emoji: "📺"},
		{ID: "2", Name: "买新玩具", Cost: 500, Emoji: "🧸"},
	}
}

// DefaultAppData returns a freshly seeded aggregate: default catalogs, zero points,
// no pending tasks and no history.
func DefaultAppData() *AppData {
	return &AppData{
		ChildName:    DefaultChildName,
		ParentPin:    DefaultParentPin,
		TotalPoints:  0,
		Habits:       DefaultHabits(),
		Rewards:      DefaultRewards(),
		Deductions:   []Deduction{},
		PendingTasks: []PendingTask{},
		Transactions: []Transaction{},
	}
}
