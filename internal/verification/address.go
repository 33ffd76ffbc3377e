package verification

import (
	"strings"

	"trustpipe/pkg/errors"
)

// Default denylist of throwaway and test domains. Extended, never replaced,
// by configuration.
var defaultDeniedDomains = []string{
	"test.com",
	"example.com",
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"yopmail.com",
	"trashmail.com",
}

var suspiciousSequences = []string{"++", "--", ".."}

// AddressPolicy validates recipient addresses structurally and against the
// domain allow-list. Both checks are deterministic, so every failure is
// permanent: retrying an invalid address changes nothing.
type AddressPolicy struct {
	allowedSuffixes []string
	deniedDomains   map[string]struct{}
}

func NewAddressPolicy(allowedSuffixes, deniedDomains []string) AddressPolicy {
	denied := make(map[string]struct{}, len(defaultDeniedDomains)+len(deniedDomains))
	for _, d := range defaultDeniedDomains {
		denied[strings.ToLower(d)] = struct{}{}
	}
	for _, d := range deniedDomains {
		denied[strings.ToLower(d)] = struct{}{}
	}

	suffixes := make([]string, 0, len(allowedSuffixes))
	for _, s := range allowedSuffixes {
		suffixes = append(suffixes, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@")))
	}

	return AddressPolicy{
		allowedSuffixes: suffixes,
		deniedDomains:   denied,
	}
}

// CheckStructure rejects malformed addresses, suspicious delimiter
// repetition, and denylisted domains.
func (p AddressPolicy) CheckStructure(email string) error {
	addr := strings.TrimSpace(email)

	domain, err := domainOf(addr)
	if err != nil {
		return err
	}

	for _, seq := range suspiciousSequences {
		if strings.Contains(addr, seq) {
			return errors.Permanent("INVALID_ADDRESS", "address contains repeated delimiters").
				WithDetail("sequence", seq)
		}
	}

	if _, denied := p.deniedDomains[domain]; denied {
		return errors.Permanent("INVALID_ADDRESS", "address domain is denylisted")
	}

	return nil
}

// CheckDomain verifies the address domain ends in one of the allowed
// suffixes.
func (p AddressPolicy) CheckDomain(email string) error {
	domain, err := domainOf(email)
	if err != nil {
		return err
	}

	for _, suffix := range p.allowedSuffixes {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return nil
		}
	}

	return errors.Permanent("DOMAIN_NOT_ALLOWED", "address domain is outside the allow-list")
}

func domainOf(email string) (string, error) {
	addr := strings.TrimSpace(email)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", errors.Permanent("INVALID_ADDRESS", "address is not of the form local@domain")
	}
	return strings.ToLower(addr[at+1:]), nil
}
