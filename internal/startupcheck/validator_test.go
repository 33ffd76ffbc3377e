package startupcheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
	"trustpipe/internal/templateapi"
	"trustpipe/internal/templates"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/models"
	"trustpipe/pkg/retry"
)

type fakeFetcher struct {
	mu        sync.Mutex
	templates map[string]*templateapi.RemoteTemplate
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		templates: make(map[string]*templateapi.RemoteTemplate),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) FetchTemplate(ctx context.Context, templateID string) (*templateapi.RemoteTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[templateID]++
	if err, ok := f.errs[templateID]; ok {
		return nil, err
	}
	if tmpl, ok := f.templates[templateID]; ok {
		return tmpl, nil
	}
	return nil, errors.Permanent("TEMPLATE_NOT_FOUND", "unknown template")
}

func (f *fakeFetcher) callCount(templateID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[templateID]
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func newTestValidator(t *testing.T, contracts map[string]config.ContractConfig, fetcher templateapi.Fetcher) *Validator {
	t.Helper()
	registry, err := templates.NewRegistry(config.TemplatesConfig{Contracts: contracts}, nil, logger.NopLogger())
	require.NoError(t, err)

	v := NewValidator(registry, fetcher, 8, logger.NopLogger())
	v.policy = fastPolicy()
	return v
}

func TestValidateAllPasses(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.templates["tmpl-approved"] = &templateapi.RemoteTemplate{
		ID:      "tmpl-approved",
		Version: 3,
		Subject: "Your sandbox lease ((leaseId))",
		Body:    "Sign in at ((ssoUrl)). Region: (( region ))",
	}

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseApproved: {
			TemplateID: "tmpl-approved",
			Required:   []string{"leaseId", "ssoUrl"},
			Optional:   []string{"region"},
		},
	}, fetcher)

	require.NoError(t, v.ValidateAll(context.Background()))
	assert.Equal(t, StateValidated, v.State())
	assert.True(t, v.Ready())

	results := v.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, 3, results[0].Version)
	assert.Empty(t, results[0].Missing)
}

func TestValidateAllRunsOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.templates["tmpl-denied"] = &templateapi.RemoteTemplate{
		ID:   "tmpl-denied",
		Body: "Lease ((leaseId)) was denied.",
	}

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseDenied: {TemplateID: "tmpl-denied", Required: []string{"leaseId"}},
	}, fetcher)

	require.NoError(t, v.ValidateAll(context.Background()))
	require.NoError(t, v.ValidateAll(context.Background()))
	assert.Equal(t, 1, fetcher.callCount("tmpl-denied"))
}

func TestValidateAllMissingRequiredFieldFailsClosed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.templates["tmpl-approved"] = &templateapi.RemoteTemplate{
		ID:   "tmpl-approved",
		Body: "Your lease ((leaseId)) is ready.",
	}

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseApproved: {
			TemplateID: "tmpl-approved",
			Required:   []string{"leaseId", "ssoUrl"},
		},
	}, fetcher)

	err := v.ValidateAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, "TEMPLATE_DRIFT", errors.CodeOf(err))
	assert.Equal(t, StateFailed, v.State())
	assert.False(t, v.Ready())

	results := v.Results()
	require.Len(t, results, 1)
	assert.Equal(t, []string{"ssoUrl"}, results[0].Missing)

	// Failure is sticky: no refetch, same verdict.
	err = v.ValidateAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fetcher.callCount("tmpl-approved"))
}

func TestValidateAllExtraFieldsAreInformational(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.templates["tmpl-expiring"] = &templateapi.RemoteTemplate{
		ID:   "tmpl-expiring",
		Body: "Lease ((leaseId)) ends soon. Contact ((supportEmail)) or ((supportPhone)).",
	}

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseExpiringSoon: {TemplateID: "tmpl-expiring", Required: []string{"leaseId"}},
	}, fetcher)

	require.NoError(t, v.ValidateAll(context.Background()))
	assert.Equal(t, StateValidated, v.State())

	results := v.Results()
	require.Len(t, results, 1)
	assert.ElementsMatch(t, []string{"supportEmail", "supportPhone"}, results[0].Extra)
}

func TestValidateAllPermanentFetchErrorDoesNotRetry(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["tmpl-missing"] = errors.Permanent("TEMPLATE_NOT_FOUND", "unknown template")

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseFrozen: {TemplateID: "tmpl-missing", Required: []string{"leaseId"}},
	}, fetcher)

	err := v.ValidateAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, v.State())
	assert.Equal(t, 1, fetcher.callCount("tmpl-missing"))
}

func TestValidateAllRetriesTransientFetchErrors(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["tmpl-flaky"] = errors.Retriable("PROVIDER_UNAVAILABLE", "provider down")

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseTerminated: {TemplateID: "tmpl-flaky", Required: []string{"leaseId"}},
	}, fetcher)

	err := v.ValidateAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, v.State())
	assert.Equal(t, 3, fetcher.callCount("tmpl-flaky"))
}

func TestValidateAllChecksEveryContractBeforeFailing(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.templates["tmpl-bad"] = &templateapi.RemoteTemplate{ID: "tmpl-bad", Body: "no markers here"}
	fetcher.templates["tmpl-good"] = &templateapi.RemoteTemplate{ID: "tmpl-good", Body: "Lease ((leaseId))"}

	v := newTestValidator(t, map[string]config.ContractConfig{
		models.KindLeaseApproved: {TemplateID: "tmpl-bad", Required: []string{"leaseId"}},
		models.KindLeaseDenied:   {TemplateID: "tmpl-good", Required: []string{"leaseId"}},
	}, fetcher)

	require.Error(t, v.ValidateAll(context.Background()))
	assert.Len(t, v.Results(), 2)
	assert.Equal(t, 1, fetcher.callCount("tmpl-good"))
}
