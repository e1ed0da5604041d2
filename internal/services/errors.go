package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/chat-escrow/backend/internal/ledger"
)

var (
	ErrRoleConflict       = errors.New("role already claimed by another user")
	ErrPreconditionFailed = errors.New("operation out of order")
	ErrUnauthorized       = errors.New("not allowed for this user")
	ErrThrottled          = errors.New("deposit address cooldown active")
	ErrUnsupportedPair    = errors.New("unsupported asset/network pair")
	ErrLedgerQueryFailed  = ledger.ErrQueryFailed

	ErrAdminOnly       = errors.New("admin only")
	ErrProtectedMember = errors.New("member is an admin")
	ErrSinkFailed      = errors.New("notification sink failed")
)

// RoleConflictError carries the current holder of the contested role.
type RoleConflictError struct {
	Role       string
	HolderName string
}

func (e *RoleConflictError) Error() string {
	return fmt.Sprintf("%s role is held by %s", e.Role, e.HolderName)
}

func (e *RoleConflictError) Is(target error) bool { return target == ErrRoleConflict }

// PreconditionError names the step that has to happen first.
type PreconditionError struct {
	Step string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: missing step %q", ErrPreconditionFailed, e.Step)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

func precondition(step string) error { return &PreconditionError{Step: step} }

// ThrottledError reports how long until a new deposit address may be issued.
type ThrottledError struct {
	Remaining time.Duration
	Cooldown  time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: %.1f minutes remaining", ErrThrottled, e.Remaining.Minutes())
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// RemainingMinutes is the wait shown to the user.
func (e *ThrottledError) RemainingMinutes() float64 { return e.Remaining.Minutes() }

// UnsupportedPairError names the rejected combination; Network is empty when
// the asset itself is unknown.
type UnsupportedPairError struct {
	Asset   string
	Network string
}

func (e *UnsupportedPairError) Error() string {
	if e.Network == "" {
		return fmt.Sprintf("%s: asset %s", ErrUnsupportedPair, e.Asset)
	}
	return fmt.Sprintf("%s: %s on %s", ErrUnsupportedPair, e.Asset, e.Network)
}

func (e *UnsupportedPairError) Is(target error) bool { return target == ErrUnsupportedPair }
