package usecase

import "time"

// Clock supplies the current time; tests substitute a fixed one.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
