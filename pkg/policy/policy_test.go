package policy

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanopy-mcp/pkg/errors"
)

const confirmText = "I understand this will modify Scanopy"

func TestIsMutating(t *testing.T) {
	for _, m := range []string{"POST", "put", "Patch", "DELETE"} {
		assert.True(t, IsMutating(m), m)
	}
	for _, m := range []string{"GET", "head", "OPTIONS", "TRACE", ""} {
		assert.False(t, IsMutating(m), m)
	}
}

func TestAllowlist(t *testing.T) {
	a := NewAllowlist("hosts.update", "discoveries.start", "hosts.update")
	assert.True(t, a.Contains("hosts.update"))
	assert.False(t, a.Contains("hosts.delete"))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"discoveries.start", "hosts.update"}, a.Names())

	var empty *Allowlist
	assert.False(t, empty.Contains("hosts.update"))
	assert.Equal(t, 0, empty.Len())
}

func TestGuardEnforceWrite(t *testing.T) {
	guard := NewGuard(NewAllowlist("create_host"), confirmText)

	t.Run("allowlisted and confirmed", func(t *testing.T) {
		assert.NoError(t, guard.EnforceWrite("create_host", confirmText))
	})

	t.Run("not allowlisted wins over confirmation", func(t *testing.T) {
		err := guard.EnforceWrite("delete_host", confirmText)
		var notAllowed *NotAllowlistedError
		require.True(t, stderrors.As(err, &notAllowed))
		assert.Equal(t, "delete_host", notAllowed.Tool)
		assert.Equal(t, errors.ErrCodeNotAllowlisted, errors.From(err).Code)
	})

	mismatches := map[string]string{
		"empty":             "",
		"trailing space":    confirmText + " ",
		"leading space":     " " + confirmText,
		"different case":    "i understand this will modify scanopy",
		"prefix only":       "I understand",
		"unicode lookalike": confirmText + "\u200b",
	}
	for name, token := range mismatches {
		t.Run("mismatch "+name, func(t *testing.T) {
			err := guard.EnforceWrite("create_host", token)
			var mismatch *ConfirmationMismatchError
			require.True(t, stderrors.As(err, &mismatch))

			se := errors.From(err)
			assert.Equal(t, errors.ErrorCategoryPolicy, se.Category)
			assert.Equal(t, errors.ErrCodeConfirmationMismatch, se.Code)
			assert.Equal(t, errors.CodePolicyDenied, se.ToMCPError().Code)
		})
	}
}
