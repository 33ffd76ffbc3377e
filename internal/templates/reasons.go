package templates

// Machine reason codes arrive on lifecycle events; templates want prose.
var reasonProse = map[string]string{
	"BUDGET_EXCEEDED":  "your sandbox reached its spending limit",
	"LEASE_EXPIRED":    "your sandbox lease reached its end date",
	"EXPIRY_IMMINENT":  "your sandbox lease is about to reach its end date",
	"MANUAL_REVOKED":   "an administrator ended your sandbox lease",
	"POLICY_VIOLATION": "activity in the sandbox breached the acceptable use policy",
	"QUOTA_EXCEEDED":   "your sandbox exceeded its resource quota",
}

// ReasonProse maps a reason code to a human-readable sentence fragment.
// Unknown codes fall back to generic prose rather than failing the send.
func ReasonProse(code string) string {
	if prose, ok := reasonProse[code]; ok {
		return prose
	}
	return "of a change to your sandbox lease"
}
