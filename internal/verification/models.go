package verification

import (
	"strings"

	"trustpipe/pkg/sign"
)

// LeaseKey identifies a lease: composite of the owner email recorded at
// provisioning time and the lease id. It doubles as the audience claim for
// portal tokens.
type LeaseKey struct {
	OwnerEmail string
	LeaseID    string
}

// Audience derives the token audience deterministically from the key, so a
// token minted for one lease cannot be replayed against another.
func (k LeaseKey) Audience() string {
	return strings.ToLower(k.OwnerEmail) + ":" + k.LeaseID
}

// LeaseRecord is the system-of-record row for a lease. Written only by the
// provisioning system; this pipeline reads it with a strongly-consistent
// point lookup.
type LeaseRecord struct {
	OwnerEmail string `bson:"owner_email"`
	LeaseID    string `bson:"lease_id"`
	AccountID  string `bson:"account_id,omitempty"`
	Status     string `bson:"status"`
}

// AccountRecord is the secondary system-of-record, consulted only when a
// lease is linked to an account.
type AccountRecord struct {
	AccountID  string `bson:"account_id"`
	OwnerEmail string `bson:"owner_email"`
}

// Judgment is one link of the verification chain. Emails appear only as
// one-way hashes.
type Judgment struct {
	Stage        string `json:"stage"`
	Match        bool   `json:"match"`
	ClaimedHash  string `json:"claimed_hash"`
	ExpectedHash string `json:"expected_hash,omitempty"`
}

const (
	StageAddressPolicy = "address_policy"
	StageLease         = "lease"
	StageAccount       = "account"
	StageDomain        = "domain"
)

// Anomaly flags surfaced on a VerificationResult.
const (
	AnomalyDomainNotAllowed  = "domain_not_allowed"
	AnomalyAccountDisagrees  = "account_owner_disagrees"
	AnomalySuspiciousAddress = "suspicious_address"
)

// VerificationResult is rebuilt for every event and never cached: a stale
// authorization could cover a just-revoked owner.
type VerificationResult struct {
	Authorized   bool       `json:"authorized"`
	ChainID      string     `json:"chain_id,omitempty"`
	Chain        []Judgment `json:"chain"`
	AnomalyFlags []string   `json:"anomaly_flags,omitempty"`
}

func (r *VerificationResult) addJudgment(stage string, match bool, claimed, expected string) {
	j := Judgment{
		Stage:       stage,
		Match:       match,
		ClaimedHash: sign.HashIdentifier(claimed),
	}
	if expected != "" {
		j.ExpectedHash = sign.HashIdentifier(expected)
	}
	r.Chain = append(r.Chain, j)
}

func (r *VerificationResult) flag(anomaly string) {
	for _, f := range r.AnomalyFlags {
		if f == anomaly {
			return
		}
	}
	r.AnomalyFlags = append(r.AnomalyFlags, anomaly)
}
