// internal/circulation/policy_test.go
package circulation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoliciesValidateReportsEveryMissingHook(t *testing.T) {
	err := (&Policies{}).Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotImplemented)

	for _, hook := range []string{
		"patron_exists",
		"item_exists",
		"document_exists",
		"item_can_circulate",
		"can_be_requested",
		"item_location_retriever",
		"items_retriever_from_document",
		"document_retriever_from_item",
		"loan_duration_default",
		"loan_duration_validate",
		"extension_duration_default",
		"extension_max_count",
		"transaction_location_validator",
		"transaction_user_validator",
	} {
		assert.Contains(t, err.Error(), hook)
	}
}

func TestPoliciesValidateReportsOnlyMissingHooks(t *testing.T) {
	p := newWorld().policies()
	require.NoError(t, p.Validate())

	p.ExtensionMaxCount = nil
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension_max_count")
	assert.Equal(t, 1, strings.Count(err.Error(), "not implemented"))
}

func TestPoliciesOptionalHooksDefault(t *testing.T) {
	p := newWorld().policies()
	p.Permission = nil
	p.ItemRefBuilder = nil
	p.PatronRefBuilder = nil
	p.DocumentRefBuilder = nil

	// Optional hooks never fail validation.
	require.NoError(t, p.Validate())
	assert.NoError(t, p.checkPermission(t.Context(), &Loan{}, "checkout"))

	loan := &Loan{PID: "loan1", PatronPID: patronPID}
	p.buildRefs(loan)
	assert.Nil(t, loan.Item)
	assert.Nil(t, loan.Patron)
	assert.Nil(t, loan.Document)
}

func TestPoliciesNowDefaultsToWallClock(t *testing.T) {
	p := &Policies{}
	before := time.Now().UTC()
	got := p.now()
	after := time.Now().UTC()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
	assert.Equal(t, time.UTC, got.Location())

	p.Now = func() time.Time { return fixedNow }
	assert.Equal(t, fixedNow, p.now())
}
