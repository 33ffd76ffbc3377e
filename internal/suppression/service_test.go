package suppression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
	"trustpipe/pkg/models"
)

func newTestService(t *testing.T, rules ...config.SuppressionRuleConfig) *Service {
	t.Helper()
	svc, err := NewService(config.SuppressionConfig{Rules: rules}, logger.NopLogger())
	require.NoError(t, err)
	return svc
}

func TestEvaluateMatchesByKind(t *testing.T) {
	svc := newTestService(t, config.SuppressionRuleConfig{
		Name:       "mute-requested",
		Expression: `kind == "LeaseRequested"`,
	})

	suppressed, name := svc.Evaluate(context.Background(), models.LeaseEvent{Kind: models.KindLeaseRequested})
	assert.True(t, suppressed)
	assert.Equal(t, "mute-requested", name)

	suppressed, _ = svc.Evaluate(context.Background(), models.LeaseEvent{Kind: models.KindLeaseApproved})
	assert.False(t, suppressed)
}

func TestEvaluateUsesOwnerDomainAndPayload(t *testing.T) {
	svc := newTestService(t, config.SuppressionRuleConfig{
		Name:       "internal-test-accounts",
		Expression: `owner_domain == "internal.gov.uk" && payload["environment"] == "staging"`,
	})

	event := models.LeaseEvent{
		Kind:       models.KindLeaseExpiringSoon,
		OwnerEmail: "Robot@Internal.GOV.UK",
		Payload:    map[string]interface{}{"environment": "staging"},
	}

	suppressed, name := svc.Evaluate(context.Background(), event)
	assert.True(t, suppressed)
	assert.Equal(t, "internal-test-accounts", name)

	event.Payload["environment"] = "production"
	suppressed, _ = svc.Evaluate(context.Background(), event)
	assert.False(t, suppressed)
}

func TestEvaluateFailsOpenOnRuleError(t *testing.T) {
	svc := newTestService(t, config.SuppressionRuleConfig{
		Name:       "needs-missing-key",
		Expression: `payload["absent"] == "x"`,
	})

	// Key lookup on a map without the key errors at eval time; the event
	// must still go through.
	suppressed, _ := svc.Evaluate(context.Background(), models.LeaseEvent{
		Kind:    models.KindLeaseDenied,
		Payload: map[string]interface{}{},
	})
	assert.False(t, suppressed)
}

func TestNewServiceRejectsBadRules(t *testing.T) {
	_, err := NewService(config.SuppressionConfig{Rules: []config.SuppressionRuleConfig{
		{Name: "broken", Expression: `kind ==`},
	}}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewService(config.SuppressionConfig{Rules: []config.SuppressionRuleConfig{
		{Name: "not-bool", Expression: `kind`},
	}}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewService(config.SuppressionConfig{Rules: []config.SuppressionRuleConfig{
		{Expression: `true`},
	}}, logger.NopLogger())
	assert.Error(t, err)
}

func TestEvaluateNoRules(t *testing.T) {
	svc := newTestService(t)
	suppressed, name := svc.Evaluate(context.Background(), models.LeaseEvent{Kind: models.KindLeaseApproved})
	assert.False(t, suppressed)
	assert.Empty(t, name)
}
