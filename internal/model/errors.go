package model

import "errors"

// Error kinds surfaced by the trading core. Callers wrap them with context
// via fmt.Errorf("%w: ...") and test them with errors.Is. The web layer maps
// them to status codes through Code.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInfrastructure       = errors.New("infrastructure error")
)

// Reason codes returned to callers alongside a rejected request.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeInsufficientPosition = "INSUFFICIENT_POSITION"
	CodeInfrastructure       = "INFRASTRUCTURE_ERROR"
)

// Code classifies err into a reason code. Unknown errors are infrastructure
// errors. A nil error has no code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrInsufficientPosition):
		return CodeInsufficientPosition
	default:
		return CodeInfrastructure
	}
}
