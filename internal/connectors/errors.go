package connectors

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyUnavailable: внешний вызов не удался (таймаут, сеть, не-2xx, открытый CB).
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrDisabled: зависимость выключена оператором, вызов не выполнялся.
	ErrDisabled = errors.New("disabled by operator")
)

// UnavailableError описывает отказ одной зависимости.
type UnavailableError struct {
	Target     string
	StatusCode int // 0, если ответа не было
	Cause      error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Target, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Target, e.Cause)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrDependencyUnavailable, e.Cause}
}
