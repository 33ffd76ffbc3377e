package templates

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/models"
)

func testRegistry(t *testing.T, contracts map[string]config.ContractConfig, portal *PortalLinkBuilder) *Registry {
	t.Helper()
	reg, err := NewRegistry(config.TemplatesConfig{Contracts: contracts}, portal, logger.NopLogger())
	require.NoError(t, err)
	return reg
}

func TestBuildPersonalizationHappyPath(t *testing.T) {
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseApproved: {
			TemplateID: "tmpl-approved",
			Required:   []string{"leaseId", "ssoUrl"},
			Optional:   []string{"region"},
		},
	}, nil)

	event := models.LeaseEvent{
		ID:         "evt-1",
		Kind:       models.KindLeaseApproved,
		OwnerEmail: "owner@gov.uk",
		LeaseID:    "lease-42",
		Payload: map[string]interface{}{
			"ssoUrl":   "https://sso.sandbox.example/start",
			"region":   "eu-west-2",
			"internal": "should never reach the template",
		},
	}

	payload, err := reg.BuildPersonalization(context.Background(), models.KindLeaseApproved, event)
	require.NoError(t, err)

	assert.Equal(t, "lease-42", payload["leaseId"])
	assert.Equal(t, "https://sso.sandbox.example/start", payload["ssoUrl"])
	assert.Equal(t, "eu-west-2", payload["region"])
	assert.NotContains(t, payload, "internal")
}

func TestBuildPersonalizationMissingRequiredField(t *testing.T) {
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseApproved: {
			TemplateID: "tmpl-approved",
			Required:   []string{"leaseId", "ssoUrl"},
		},
	}, nil)

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{name: "field absent", payload: map[string]interface{}{}},
		{name: "field empty", payload: map[string]interface{}{"ssoUrl": ""}},
		{name: "field nil", payload: map[string]interface{}{"ssoUrl": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := models.LeaseEvent{
				Kind:    models.KindLeaseApproved,
				LeaseID: "lease-42",
				Payload: tt.payload,
			}

			_, err := reg.BuildPersonalization(context.Background(), models.KindLeaseApproved, event)
			require.Error(t, err)
			assert.True(t, errors.IsPermanent(err))
			assert.Equal(t, "MISSING_REQUIRED_FIELD", errors.CodeOf(err))
		})
	}
}

func TestBuildPersonalizationOptionalDefaultsToEmpty(t *testing.T) {
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseDenied: {
			TemplateID: "tmpl-denied",
			Required:   []string{"leaseId"},
			Optional:   []string{"region", "reasonText"},
		},
	}, nil)

	event := models.LeaseEvent{
		Kind:    models.KindLeaseDenied,
		LeaseID: "lease-42",
		Payload: map[string]interface{}{},
	}

	payload, err := reg.BuildPersonalization(context.Background(), models.KindLeaseDenied, event)
	require.NoError(t, err)

	// Keys exist even when blank so the remote template can reference them.
	region, ok := payload["region"]
	assert.True(t, ok)
	assert.Empty(t, region)
	assert.NotEmpty(t, payload["reasonText"])
}

func TestBuildPersonalizationReasonProse(t *testing.T) {
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseTerminated: {
			TemplateID: "tmpl-terminated",
			Required:   []string{"leaseId", "reasonText"},
		},
	}, nil)

	event := models.LeaseEvent{
		Kind:    models.KindLeaseTerminated,
		LeaseID: "lease-42",
		Payload: map[string]interface{}{"reason_code": "BUDGET_EXCEEDED"},
	}

	payload, err := reg.BuildPersonalization(context.Background(), models.KindLeaseTerminated, event)
	require.NoError(t, err)
	assert.Equal(t, "your sandbox reached its spending limit", payload["reasonText"])
}

func TestBuildPersonalizationPortalFields(t *testing.T) {
	portal := testPortalBuilder(t)
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseExpiringSoon: {
			TemplateID: "tmpl-expiring",
			Required:   []string{"leaseId"},
			Optional:   []string{"portalUrl", "portalUrlPlain", "linkInstruction"},
		},
	}, portal)

	event := models.LeaseEvent{
		Kind:       models.KindLeaseExpiringSoon,
		OwnerEmail: "owner@gov.uk",
		LeaseID:    "lease-42",
	}

	payload, err := reg.BuildPersonalization(context.Background(), models.KindLeaseExpiringSoon, event)
	require.NoError(t, err)

	assert.NotEmpty(t, payload["portalUrl"])
	assert.Equal(t, payload["portalUrl"], payload["portalUrlPlain"])
	assert.Equal(t, linkInstruction, payload["linkInstruction"])
	assert.True(t, strings.Contains(payload["portalUrl"], "token="))
}

func TestBuildPersonalizationPortalUnconfigured(t *testing.T) {
	portal := NewPortalLinkBuilder(config.PortalConfig{}, logger.NopLogger())
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseFrozen: {
			TemplateID: "tmpl-frozen",
			Required:   []string{"leaseId"},
			Optional:   []string{"portalUrl", "linkInstruction"},
		},
	}, portal)

	event := models.LeaseEvent{
		Kind:       models.KindLeaseFrozen,
		OwnerEmail: "owner@gov.uk",
		LeaseID:    "lease-42",
	}

	payload, err := reg.BuildPersonalization(context.Background(), models.KindLeaseFrozen, event)
	require.NoError(t, err)

	// No signed link means no link at all, and no dangling instruction.
	assert.Empty(t, payload["portalUrl"])
	assert.Empty(t, payload["linkInstruction"])
}

func TestBuildPersonalizationUnknownKind(t *testing.T) {
	reg := testRegistry(t, map[string]config.ContractConfig{}, nil)

	_, err := reg.BuildPersonalization(context.Background(), "lease_imploded", models.LeaseEvent{})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Equal(t, "UNKNOWN_KIND", errors.CodeOf(err))
}

func TestBuildSyntheticFillsEveryField(t *testing.T) {
	portal := testPortalBuilder(t)
	reg := testRegistry(t, map[string]config.ContractConfig{
		models.KindLeaseRequested: {
			TemplateID: "tmpl-requested",
			Required:   []string{"leaseId", "requesterName"},
			Optional:   []string{"region", "portalUrl"},
		},
	}, portal)

	payload, err := reg.BuildSynthetic(models.KindLeaseRequested)
	require.NoError(t, err)

	for _, field := range []string{"leaseId", "requesterName", "region", "portalUrl"} {
		assert.NotEmpty(t, payload[field], "field %s", field)
	}
}

func TestNewRegistryRejectsBadContracts(t *testing.T) {
	_, err := NewRegistry(config.TemplatesConfig{Contracts: map[string]config.ContractConfig{
		models.KindLeaseApproved: {Required: []string{"leaseId"}},
	}}, nil, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewRegistry(config.TemplatesConfig{Contracts: map[string]config.ContractConfig{
		models.KindLeaseApproved: {
			TemplateID: "tmpl-approved",
			Required:   []string{"leaseId"},
			Optional:   []string{"leaseId"},
		},
	}}, nil, logger.NopLogger())
	assert.Error(t, err)
}
