package verification

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"trustpipe/internal/logger"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/metrics"
)

type fakeLeaseStore struct {
	records map[LeaseKey]*LeaseRecord
	err     error
}

func (s *fakeLeaseStore) Get(_ context.Context, key LeaseKey) (*LeaseRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	normalized := LeaseKey{OwnerEmail: key.OwnerEmail, LeaseID: key.LeaseID}
	for k, r := range s.records {
		if k.LeaseID == normalized.LeaseID {
			return r, nil
		}
	}
	return nil, nil
}

type fakeAccountStore struct {
	records map[string]*AccountRecord
	err     error
}

func (s *fakeAccountStore) Get(_ context.Context, accountID string) (*AccountRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records[accountID], nil
}

type capturingAuditSink struct {
	entries []AuditEntry
	err     error
}

func (s *capturingAuditSink) Record(_ context.Context, entry AuditEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func observedLogger(t *testing.T) (logger.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return &logger.SugaredLogger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func testPolicy() AddressPolicy {
	return NewAddressPolicy([]string{"gov.uk"}, nil)
}

func newTestVerifier(leases *fakeLeaseStore, accounts *fakeAccountStore, sink *capturingAuditSink, log logger.Logger) *Verifier {
	if accounts == nil {
		accounts = &fakeAccountStore{}
	}
	var audit AuditSink
	if sink != nil {
		audit = sink
	}
	return NewVerifier(leases, accounts, testPolicy(), audit, log)
}

func TestVerifyAuthorizesMatchingOwner(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@gov.uk", LeaseID: "L1"}: {OwnerEmail: "User@Gov.UK", LeaseID: "L1", Status: "active"},
	}}
	sink := &capturingAuditSink{}
	v := newTestVerifier(leases, nil, sink, logger.NopLogger())

	// Case-insensitive comparison against the record owner.
	result, err := v.Verify(context.Background(), "user@gov.uk", LeaseKey{OwnerEmail: "user@gov.uk", LeaseID: "L1"}, "evt-1")
	require.NoError(t, err)
	assert.True(t, result.Authorized)
	assert.NotEmpty(t, result.ChainID)
	assert.Empty(t, result.AnomalyFlags)

	require.Len(t, sink.entries, 1)
	assert.True(t, sink.entries[0].Authorized)
	assert.False(t, sink.entries[0].Alert)
	assert.Equal(t, result.ChainID, sink.entries[0].ChainID)
}

func TestVerifyOwnershipMismatchIsSecurityError(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@gov.uk", LeaseID: "L1"}: {OwnerEmail: "user@gov.uk", LeaseID: "L1", Status: "active"},
	}}
	sink := &capturingAuditSink{}
	v := newTestVerifier(leases, nil, sink, logger.NopLogger())

	before := testutil.ToFloat64(metrics.OwnershipMismatchTotal.WithLabelValues(StageLease))

	result, err := v.Verify(context.Background(), "attacker@sandbox.gov.uk", LeaseKey{OwnerEmail: "user@gov.uk", LeaseID: "L1"}, "evt-2")
	require.Error(t, err)
	assert.True(t, errors.IsSecurity(err))
	assert.Equal(t, "OWNERSHIP_MISMATCH", errors.CodeOf(err))
	assert.False(t, result.Authorized)

	after := testutil.ToFloat64(metrics.OwnershipMismatchTotal.WithLabelValues(StageLease))
	assert.Equal(t, float64(1), after-before)

	// The failed chain is still audited, flagged as an alert.
	require.Len(t, sink.entries, 1)
	assert.True(t, sink.entries[0].Alert)
	assert.False(t, sink.entries[0].Authorized)
}

func TestVerifyMissingLeaseIsPermanent(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{}}
	v := newTestVerifier(leases, nil, nil, logger.NopLogger())

	_, err := v.Verify(context.Background(), "bob@gov.uk", LeaseKey{OwnerEmail: "bob@gov.uk", LeaseID: "L1"}, "evt-3")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err), "missing lease must never be retriable")
	assert.False(t, errors.IsRetriable(err))
	assert.Equal(t, "LEASE_NOT_FOUND", errors.CodeOf(err))
	assert.Contains(t, err.Error(), "lease not found")
}

func TestVerifyTransientStoreFailureIsRetriable(t *testing.T) {
	leases := &fakeLeaseStore{err: errors.Retriable("STORE_UNAVAILABLE", "lease store lookup failed")}
	v := newTestVerifier(leases, nil, nil, logger.NopLogger())

	_, err := v.Verify(context.Background(), "bob@gov.uk", LeaseKey{OwnerEmail: "bob@gov.uk", LeaseID: "L1"}, "evt-4")
	require.Error(t, err)
	assert.True(t, errors.IsRetriable(err))
}

func TestVerifyAccountOwnerDisagreement(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@gov.uk", LeaseID: "L1"}: {OwnerEmail: "user@gov.uk", LeaseID: "L1", AccountID: "acc-9", Status: "active"},
	}}
	accounts := &fakeAccountStore{records: map[string]*AccountRecord{
		"acc-9": {AccountID: "acc-9", OwnerEmail: "someoneelse@gov.uk"},
	}}
	sink := &capturingAuditSink{}
	log, logs := observedLogger(t)
	v := newTestVerifier(leases, accounts, sink, log)

	result, err := v.Verify(context.Background(), "user@gov.uk", LeaseKey{OwnerEmail: "user@gov.uk", LeaseID: "L1"}, "evt-5")
	require.Error(t, err)
	assert.True(t, errors.IsSecurity(err))
	assert.Equal(t, "ACCOUNT_OWNER_MISMATCH", errors.CodeOf(err))
	assert.Contains(t, result.AnomalyFlags, AnomalyAccountDisagrees)

	alerts := logs.FilterMessageSnippet("SECURITY ALERT").All()
	assert.NotEmpty(t, alerts)
}

func TestVerifyMissingAccountLinkageIsNotAnError(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@gov.uk", LeaseID: "L1"}: {OwnerEmail: "user@gov.uk", LeaseID: "L1", AccountID: "acc-gone", Status: "active"},
	}}
	accounts := &fakeAccountStore{records: map[string]*AccountRecord{}}
	v := newTestVerifier(leases, accounts, nil, logger.NopLogger())

	result, err := v.Verify(context.Background(), "user@gov.uk", LeaseKey{OwnerEmail: "user@gov.uk", LeaseID: "L1"}, "evt-6")
	require.NoError(t, err)
	assert.True(t, result.Authorized)
}

func TestVerifyDomainOutsideAllowList(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@corp.io", LeaseID: "L1"}: {OwnerEmail: "user@corp.io", LeaseID: "L1", Status: "active"},
	}}
	v := newTestVerifier(leases, nil, nil, logger.NopLogger())

	result, err := v.Verify(context.Background(), "user@corp.io", LeaseKey{OwnerEmail: "user@corp.io", LeaseID: "L1"}, "evt-7")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, "DOMAIN_NOT_ALLOWED", errors.CodeOf(err))
	assert.Contains(t, result.AnomalyFlags, AnomalyDomainNotAllowed)
}

func TestVerifyRejectsSuspiciousAddresses(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{}}
	v := newTestVerifier(leases, nil, nil, logger.NopLogger())

	tests := []struct {
		name  string
		email string
	}{
		{name: "consecutive plus", email: "user++tag@gov.uk"},
		{name: "consecutive dash", email: "us--er@gov.uk"},
		{name: "consecutive dot", email: "us..er@gov.uk"},
		{name: "denylisted domain", email: "someone@test.com"},
		{name: "not an address", email: "not-an-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Verify(context.Background(), tt.email, LeaseKey{OwnerEmail: tt.email, LeaseID: "L1"}, "evt-8")
			require.Error(t, err)
			assert.True(t, errors.IsPermanent(err), "structurally invalid addresses never retry")
			assert.False(t, result.Authorized)
		})
	}
}

func TestVerifyNeverLogsPlaintextEmail(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "owner@gov.uk", LeaseID: "L1"}: {OwnerEmail: "owner@gov.uk", LeaseID: "L1", AccountID: "acc-1", Status: "active"},
	}}
	accounts := &fakeAccountStore{records: map[string]*AccountRecord{
		"acc-1": {AccountID: "acc-1", OwnerEmail: "different@gov.uk"},
	}}
	log, logs := observedLogger(t)
	v := newTestVerifier(leases, accounts, &capturingAuditSink{}, log)

	claimed := "attacker@sandbox.gov.uk"
	_, _ = v.Verify(context.Background(), claimed, LeaseKey{OwnerEmail: "owner@gov.uk", LeaseID: "L1"}, "evt-9")
	_, _ = v.Verify(context.Background(), "owner@gov.uk", LeaseKey{OwnerEmail: "owner@gov.uk", LeaseID: "L1"}, "evt-10")

	for _, entry := range logs.All() {
		line := entry.Message
		for _, f := range entry.Context {
			line += " " + f.Key + "=" + f.String
		}
		assert.NotContains(t, line, "@gov.uk")
		assert.NotContains(t, line, "@sandbox.gov.uk")
		assert.NotContains(t, line, claimed)
	}
}

func TestVerifyAuditFailureDoesNotReverseVerdict(t *testing.T) {
	leases := &fakeLeaseStore{records: map[LeaseKey]*LeaseRecord{
		{OwnerEmail: "user@gov.uk", LeaseID: "L1"}: {OwnerEmail: "user@gov.uk", LeaseID: "L1", Status: "active"},
	}}
	sink := &capturingAuditSink{err: errors.Retriable("AUDIT_UNAVAILABLE", "audit store down")}
	v := newTestVerifier(leases, nil, sink, logger.NopLogger())

	result, err := v.Verify(context.Background(), "user@gov.uk", LeaseKey{OwnerEmail: "user@gov.uk", LeaseID: "L1"}, "evt-11")
	require.NoError(t, err)
	assert.True(t, result.Authorized)
}
