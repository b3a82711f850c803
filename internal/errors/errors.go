package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16

	CodeUnknownToken          Code = 20
	CodeIntentParseFailure    Code = 21
	CodeNoQuoteAvailable      Code = 22
	CodeInsufficientLiquidity Code = 23
	CodeStaleQuote            Code = 24
	CodePendingSwapExists     Code = 25

	CodeWalletLocked       Code = 30
	CodeInvalidPassword    Code = 31
	CodeInvalidKeyMaterial Code = 32
	CodeWalletExists       Code = 33
	CodeWalletAbsent       Code = 34
	CodeSigner             Code = 35

	CodeInsufficientFunds   Code = 40
	CodeApprovalFailed      Code = 41
	CodeSwapReverted        Code = 42
	CodeConfirmationTimeout Code = 43
)

var codeNames = map[Code]string{
	CodeInternal:              "internal",
	CodeUsage:                 "usage",
	CodeAuth:                  "auth",
	CodeRateLimited:           "rate_limited",
	CodeUnavailable:           "unavailable",
	CodeUnsupported:           "unsupported",
	CodeBlocked:               "blocked",
	CodeUnknownToken:          "unknown_token",
	CodeIntentParseFailure:    "intent_parse_failure",
	CodeNoQuoteAvailable:      "no_quote_available",
	CodeInsufficientLiquidity: "insufficient_liquidity",
	CodeStaleQuote:            "stale_quote",
	CodePendingSwapExists:     "pending_swap_exists",
	CodeWalletLocked:          "wallet_locked",
	CodeInvalidPassword:       "invalid_password",
	CodeInvalidKeyMaterial:    "invalid_key_material",
	CodeWalletExists:          "wallet_exists",
	CodeWalletAbsent:          "wallet_absent",
	CodeSigner:                "signer",
	CodeInsufficientFunds:     "insufficient_funds",
	CodeApprovalFailed:        "approval_failed",
	CodeSwapReverted:          "swap_reverted",
	CodeConfirmationTimeout:   "confirmation_timeout",
}

// String returns the snake_case name used in envelopes and events.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c == CodeSuccess {
		return "success"
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err's chain has code.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
