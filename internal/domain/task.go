package domain

import "time"

type TaskKind string

const (
	TaskKindSimple TaskKind = "simple"
	TaskKindPhone  TaskKind = "phone"
)

func (k TaskKind) Valid() bool {
	return k == TaskKindSimple || k == TaskKindPhone
}

// RequiresValue reports whether a submission must disclose a value.
func (k TaskKind) RequiresValue() bool {
	return k == TaskKindPhone
}

type Task struct {
	ID          int64
	Kind        TaskKind
	URL         string
	MessageText string
	Price       int64
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
