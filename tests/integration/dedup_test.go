package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"trustpipe/internal/pipeline"
	"trustpipe/pkg/models"
)

func TestDeduperAgainstLiveRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()

	deduper := pipeline.NewDeduper(pipeline.NewRedisDedupStore(infra.RedisClient), 60, createTestLogger())

	event := createTestEvent("evt-1", models.KindLeaseTerminated, "owner@gov.uk", "lease-42")

	assert.True(t, deduper.FirstSeen(ctx, event))
	assert.False(t, deduper.FirstSeen(ctx, event))

	// Same producer id but a different kind is a distinct notification.
	other := createTestEvent("evt-1", models.KindLeaseExpiringSoon, "owner@gov.uk", "lease-42")
	assert.True(t, deduper.FirstSeen(ctx, other))
}
