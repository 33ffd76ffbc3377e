package integration

import (
	"time"

	"trustpipe/internal/logger"
	"trustpipe/pkg/models"
)

const (
	containerStartupTimeout = 60
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestEvent(id, kind, ownerEmail, leaseID string) models.LeaseEvent {
	return models.LeaseEvent{
		ID:         id,
		Kind:       kind,
		OwnerEmail: ownerEmail,
		LeaseID:    leaseID,
		OccurredAt: time.Now(),
		Payload:    map[string]interface{}{},
		Metadata:   models.Metadata{},
	}
}
