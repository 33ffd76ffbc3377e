package verification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustpipe/internal/logger"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/metrics"
	"trustpipe/pkg/sign"
	"trustpipe/pkg/tracing"
)

// AuditSink receives the full verification chain once a verdict exists.
// Implementations persist hashed identifiers only.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	ChainID      string
	EventID      string
	LeaseID      string
	ClaimedHash  string
	Authorized   bool
	Alert        bool
	Chain        []Judgment
	AnomalyFlags []string
	OccurredAt   time.Time
}

// Verifier decides whether a claimed recipient may be notified about a
// lease. Verification is mandatory and unconditional: there is no bypass
// flag, because disabling it would turn a delivery bug into a disclosure
// incident.
type Verifier struct {
	leases   LeaseStore
	accounts AccountStore
	policy   AddressPolicy
	audit    AuditSink
	logger   logger.Logger
}

func NewVerifier(leases LeaseStore, accounts AccountStore, policy AddressPolicy, audit AuditSink, log logger.Logger) *Verifier {
	return &Verifier{
		leases:   leases,
		accounts: accounts,
		policy:   policy,
		audit:    audit,
		logger:   log,
	}
}

// Verify cross-checks claimedEmail against the lease system-of-record and,
// when the lease is linked to an account, against the account registry.
// Every failure path is non-retriable except transient store errors, which
// surface as KindRetriable from the stores themselves.
func (v *Verifier) Verify(ctx context.Context, claimedEmail string, key LeaseKey, eventID string) (*VerificationResult, error) {
	ctx, span := tracing.GetTracer("notify-service").Start(ctx, "verification.verify")
	defer span.End()

	result := &VerificationResult{}

	if err := v.policy.CheckStructure(claimedEmail); err != nil {
		result.flag(AnomalySuspiciousAddress)
		result.addJudgment(StageAddressPolicy, false, claimedEmail, "")
		metrics.DomainAnomalyTotal.WithLabelValues("structure").Inc()
		v.logger.WarnwCtx(ctx, "Recipient address rejected by address policy",
			"claimed_hash", sign.HashIdentifier(claimedEmail),
			"error_code", errors.CodeOf(err),
		)
		return result, err
	}
	result.addJudgment(StageAddressPolicy, true, claimedEmail, "")

	lease, err := v.leases.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		// A non-existent lease will not appear on retry.
		return result, errors.Permanent("LEASE_NOT_FOUND", "lease not found").
			WithDetail("lease_id", key.LeaseID)
	}

	leaseMatch := equalFold(claimedEmail, lease.OwnerEmail)
	result.addJudgment(StageLease, leaseMatch, claimedEmail, lease.OwnerEmail)
	if !leaseMatch {
		metrics.OwnershipMismatchTotal.WithLabelValues(StageLease).Inc()
		v.logger.ErrorwCtx(ctx, "Ownership mismatch: claimed recipient is not the lease owner",
			"lease_id", key.LeaseID,
			"claimed_hash", sign.HashIdentifier(claimedEmail),
			"owner_hash", sign.HashIdentifier(lease.OwnerEmail),
		)
		v.recordAudit(ctx, result, claimedEmail, key, eventID, true)
		return result, errors.Security("OWNERSHIP_MISMATCH", "claimed recipient does not match the lease owner")
	}

	if lease.AccountID != "" {
		account, err := v.accounts.Get(ctx, lease.AccountID)
		if err != nil {
			return nil, err
		}
		// A lease without a registered account linkage is not an error.
		if account != nil {
			accountMatch := equalFold(claimedEmail, account.OwnerEmail)
			result.addJudgment(StageAccount, accountMatch, claimedEmail, account.OwnerEmail)
			if !accountMatch {
				// Lease and account records disagree about the owner:
				// stronger signal than a plain mismatch, alert loudly.
				result.flag(AnomalyAccountDisagrees)
				metrics.OwnershipMismatchTotal.WithLabelValues(StageAccount).Inc()
				v.logger.ErrorwCtx(ctx, "SECURITY ALERT: account registry owner disagrees with lease owner",
					"lease_id", key.LeaseID,
					"account_id", lease.AccountID,
					"claimed_hash", sign.HashIdentifier(claimedEmail),
					"account_owner_hash", sign.HashIdentifier(account.OwnerEmail),
				)
				v.recordAudit(ctx, result, claimedEmail, key, eventID, true)
				return result, errors.Security("ACCOUNT_OWNER_MISMATCH", "account registry owner disagrees with claimed recipient")
			}
		}
	}

	if err := v.policy.CheckDomain(claimedEmail); err != nil {
		result.flag(AnomalyDomainNotAllowed)
		result.addJudgment(StageDomain, false, claimedEmail, "")
		metrics.DomainAnomalyTotal.WithLabelValues("domain_not_allowed").Inc()
		v.logger.ErrorwCtx(ctx, "Recipient domain outside allow-list",
			"lease_id", key.LeaseID,
			"claimed_hash", sign.HashIdentifier(claimedEmail),
		)
		return result, err
	}
	result.addJudgment(StageDomain, true, claimedEmail, "")

	result.Authorized = true
	// Audit is the final step of a successful chain: a partial record must
	// never read as a completed verification.
	result.ChainID = v.recordAudit(ctx, result, claimedEmail, key, eventID, false)

	return result, nil
}

func (v *Verifier) recordAudit(ctx context.Context, result *VerificationResult, claimedEmail string, key LeaseKey, eventID string, alert bool) string {
	if v.audit == nil {
		return ""
	}

	entry := AuditEntry{
		ChainID:      uuid.New().String(),
		EventID:      eventID,
		LeaseID:      key.LeaseID,
		ClaimedHash:  sign.HashIdentifier(claimedEmail),
		Authorized:   result.Authorized,
		Alert:        alert,
		Chain:        result.Chain,
		AnomalyFlags: result.AnomalyFlags,
		OccurredAt:   time.Now().UTC(),
	}

	if err := v.audit.Record(ctx, entry); err != nil {
		// The verdict stands either way; the send is gated on verification,
		// not on audit persistence.
		metrics.AuditWriteFailuresTotal.Inc()
		v.logger.ErrorwCtx(ctx, "Failed to persist verification audit record",
			"error", err,
			"chain_id", entry.ChainID,
			"lease_id", key.LeaseID,
		)
	}

	return entry.ChainID
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
