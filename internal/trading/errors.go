package trading

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive number of kWh")
	ErrExceedsAvailable    = errors.New("amount exceeds what is available")
	ErrInsufficientReserve = errors.New("insufficient energy reserve")
	ErrOfferNotFound       = errors.New("sell offer not found")
	ErrRequestNotFound     = errors.New("buy request not found")
	ErrPersist             = errors.New("persisting market state failed")
)

// ReserveError is returned when a sale would drive the pool reserve
// negative. It matches ErrInsufficientReserve with errors.Is.
type ReserveError struct {
	Available float64
	Requested float64
}

func (e *ReserveError) Error() string {
	return fmt.Sprintf("%v: %.2f kWh available, %.2f kWh requested; buy more energy from sellers first",
		ErrInsufficientReserve, e.Available, e.Requested)
}

func (e *ReserveError) Is(target error) bool {
	return target == ErrInsufficientReserve
}
