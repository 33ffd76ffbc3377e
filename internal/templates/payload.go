package templates

import (
	"context"
	"fmt"

	"trustpipe/internal/verification"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/models"
	"trustpipe/pkg/tracing"
)

// Field names with dedicated builders. Everything else is pulled from the
// event payload by name.
const (
	FieldReasonText      = "reasonText"
	FieldPortalURL       = "portalUrl"
	FieldPortalURLPlain  = "portalUrlPlain"
	FieldLinkInstruction = "linkInstruction"
	FieldLeaseID         = "leaseId"
	FieldAccountID       = "accountId"
)

// Rich link rendering cannot be guaranteed across recipient environments,
// so every payload that embeds a portal link also carries the raw URL and
// this instruction.
const linkInstruction = "If the button does not work, copy and paste the link below into your browser."

// PersonalizationPayload maps template field names to their values for one
// send. Built fresh per event and discarded after handoff.
type PersonalizationPayload map[string]string

// BuildPersonalization assembles the payload for one notification. Every
// required field must resolve to a non-empty value or the whole build fails:
// there are no partial sends. Optional fields default to the empty string
// but the key is always present, since the remote template may reference it
// even when blank. Upstream values outside the contract are never forwarded.
func (r *Registry) BuildPersonalization(ctx context.Context, kind string, event models.LeaseEvent) (PersonalizationPayload, error) {
	_, span := tracing.GetTracer("notify-service").Start(ctx, "templates.build_personalization")
	defer span.End()

	contract, err := r.Contract(kind)
	if err != nil {
		return nil, err
	}

	link := r.mintLinkFor(contract, event)

	payload := make(PersonalizationPayload, len(contract.Required)+len(contract.Optional))

	for _, field := range contract.Required {
		value := r.resolveField(field, event, link)
		if value == "" {
			return nil, errors.Permanent("MISSING_REQUIRED_FIELD", "required personalization field is absent or empty").
				WithDetail("field", field).
				WithDetail("kind", kind)
		}
		payload[field] = value
	}

	for _, field := range contract.Optional {
		payload[field] = r.resolveField(field, event, link)
	}

	return payload, nil
}

// BuildSynthetic produces a payload with placeholder test values for every
// contracted field, used by startup validation to render the remote
// template. Builders run as in a real send; any field they cannot fill gets
// a deterministic sample value.
func (r *Registry) BuildSynthetic(kind string) (PersonalizationPayload, error) {
	contract, err := r.Contract(kind)
	if err != nil {
		return nil, err
	}

	event := models.LeaseEvent{
		ID:         "startup-validation",
		Kind:       kind,
		OwnerEmail: "validation@sandbox.invalid",
		LeaseID:    "lease-validation",
		AccountID:  "account-validation",
		Payload:    map[string]interface{}{"reason_code": "LEASE_EXPIRED"},
	}
	for _, field := range contract.Fields() {
		event.Payload[field] = "sample-" + field
	}

	link := r.mintLinkFor(contract, event)

	payload := make(PersonalizationPayload, len(contract.Required)+len(contract.Optional))
	for _, field := range contract.Fields() {
		value := r.resolveField(field, event, link)
		if value == "" {
			value = "sample-" + field
		}
		payload[field] = value
	}

	return payload, nil
}

type mintedLink struct {
	url string
	ok  bool
}

func (r *Registry) mintLinkFor(contract TemplateContract, event models.LeaseEvent) mintedLink {
	if r.portal == nil {
		return mintedLink{}
	}
	if !contract.contracted(FieldPortalURL) && !contract.contracted(FieldPortalURLPlain) {
		return mintedLink{}
	}

	key := verification.LeaseKey{OwnerEmail: event.OwnerEmail, LeaseID: event.LeaseID}
	url, ok := r.portal.GenerateLink(key, actionForKind(event.Kind))
	return mintedLink{url: url, ok: ok}
}

func (r *Registry) resolveField(field string, event models.LeaseEvent, link mintedLink) string {
	switch field {
	case FieldReasonText:
		return ReasonProse(stringValue(event.Payload["reason_code"]))
	case FieldPortalURL, FieldPortalURLPlain:
		return link.url
	case FieldLinkInstruction:
		if !link.ok {
			return ""
		}
		return linkInstruction
	case FieldLeaseID:
		return event.LeaseID
	case FieldAccountID:
		return event.AccountID
	default:
		return stringValue(event.Payload[field])
	}
}

// actionForKind picks the portal action a notification's link points at.
func actionForKind(kind string) string {
	switch kind {
	case models.KindLeaseExpiringSoon:
		return "extend"
	case models.KindLeaseFrozen:
		return "review"
	default:
		return "view"
	}
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
