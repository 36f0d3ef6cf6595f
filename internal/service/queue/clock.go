package queue

import "time"

// Clock supplies timestamps for check-in, call and completion events.
// Injectable so tests can pin time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func NewClock() Clock { return realClock{} }
