package bus

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError asks a JetStream subscription to redeliver the message
// after Delay instead of acking it.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Delay > 0 {
		return fmt.Sprintf("redeliver after %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("redeliver: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter wraps err so the message is redelivered after delay.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("redelivery requested")
	}
	return &RetryableError{Err: err, Delay: max(delay, 0)}
}

// RetryDelay reports whether err requests redelivery and after how long.
func RetryDelay(err error) (time.Duration, bool) {
	var re *RetryableError
	if !errors.As(err, &re) || re == nil {
		return 0, false
	}
	return max(re.Delay, 0), true
}
