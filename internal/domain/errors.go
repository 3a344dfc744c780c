/**
 * @description
 * Ledger error taxonomy. Each error has a stable code reported to API clients, and
 * the helpers here decide whether a failure is a business rejection or a retryable
 * storage fault.
 */

package domain

import "errors"

var (
	ErrInvalidAmount      = errors.New("amount must be a positive value with at most two decimal places")
	ErrInvalidKind        = errors.New("transaction kind must be credit or debit")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBalanceLimit       = errors.New("balance would exceed the maximum supported value")
	ErrAccountNotFound    = errors.New("account not found")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrStorageFailure     = errors.New("storage failure")
	ErrStorageUnavailable = errors.New("storage is unavailable until the service is restarted")
	ErrSelfTransfer       = errors.New("cannot transfer to the same account")
	ErrEmptyBatch         = errors.New("bulk payment requires at least one item")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("username must be 3-20 characters of letters, digits or underscore")
	ErrInvalidPassword    = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidProduct     = errors.New("product name and a positive price are required")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidKind, "InvalidKind"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrBalanceLimit, "BalanceLimitExceeded"},
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrRecipientNotFound, "RecipientNotFound"},
	{ErrProductNotFound, "ProductNotFound"},
	{ErrStorageFailure, "StorageFailure"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrSelfTransfer, "SelfTransfer"},
	{ErrEmptyBatch, "EmptyBatch"},
	{ErrUsernameTaken, "UsernameTaken"},
	{ErrInvalidUsername, "InvalidUsername"},
	{ErrInvalidPassword, "InvalidPassword"},
	{ErrInvalidCredentials, "InvalidCredentials"},
	{ErrInvalidProduct, "InvalidProduct"},
}

// ErrorCode returns the stable code for a ledger error, or "InternalError".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "InternalError"
}

// IsBusinessError reports whether err is a known, non-storage ledger error.
func IsBusinessError(err error) bool {
	if err == nil || errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrStorageUnavailable) {
		return false
	}
	return ErrorCode(err) != "InternalError"
}

// IsRetryable reports whether the caller may safely retry the failed operation.
// An unavailable store is never retryable: the outcome of the failed write is unknown.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure) && !errors.Is(err, ErrStorageUnavailable)
}
