package policy

import (
	"fmt"
	"sort"
	"strings"

	"scanopy-mcp/pkg/errors"
)

// Mutating HTTP methods. Anything else is a read.
var mutatingMethods = map[string]struct{}{
	"POST":   {},
	"PUT":    {},
	"PATCH":  {},
	"DELETE": {},
}

// IsMutating reports whether an HTTP method changes remote state (case-insensitive)
func IsMutating(method string) bool {
	_, ok := mutatingMethods[strings.ToUpper(method)]
	return ok
}

// Allowlist is the read-only set of mutating operation ids permitted to execute
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist builds an allowlist from operation ids
func NewAllowlist(names ...string) *Allowlist {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &Allowlist{names: set}
}

// Contains reports membership. A nil allowlist contains nothing.
func (a *Allowlist) Contains(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.names[name]
	return ok
}

// Len returns the number of allowlisted operation ids
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.names)
}

// Names returns the allowlisted ids in sorted order
func (a *Allowlist) Names() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NotAllowlistedError is returned when a mutating tool is not in the allowlist
type NotAllowlistedError struct {
	Tool string
}

func (e *NotAllowlistedError) Error() string {
	return fmt.Sprintf("Tool '%s' is not allowlisted for write operations", e.Tool)
}

// StructuredError implements errors.Classifier
func (e *NotAllowlistedError) StructuredError() *errors.StructuredError {
	return errors.NewPolicyError(errors.ErrCodeNotAllowlisted, e.Error(), e).
		WithContext("tool", e.Tool)
}

// ConfirmationMismatchError is returned when the confirmation token is wrong or absent
type ConfirmationMismatchError struct {
	Tool string
}

func (e *ConfirmationMismatchError) Error() string {
	return "Invalid confirm string - write operations require explicit confirmation"
}

// StructuredError implements errors.Classifier
func (e *ConfirmationMismatchError) StructuredError() *errors.StructuredError {
	return errors.NewPolicyError(errors.ErrCodeConfirmationMismatch, e.Error(), e).
		WithContext("tool", e.Tool)
}

// Guard decides whether a mutating call may proceed
type Guard struct {
	allowlist     *Allowlist
	confirmString string
}

// NewGuard creates a guard. The confirmation string is validated by the
// configuration loader, not here.
func NewGuard(allowlist *Allowlist, confirmString string) *Guard {
	return &Guard{allowlist: allowlist, confirmString: confirmString}
}

// EnforceWrite returns nil only when the tool is allowlisted and confirm equals
// the configured string byte-for-byte.
func (g *Guard) EnforceWrite(toolName, confirm string) error {
	if !g.allowlist.Contains(toolName) {
		return &NotAllowlistedError{Tool: toolName}
	}
	if confirm != g.confirmString {
		return &ConfirmationMismatchError{Tool: toolName}
	}
	return nil
}

// Allowlist returns the allowlist the guard was built with
func (g *Guard) Allowlist() *Allowlist {
	return g.allowlist
}
