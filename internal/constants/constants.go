package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultProviderTimeout = 10 * time.Second
	StoreLookupTimeout     = 5 * time.Second
	AuditWriteTimeout      = 5 * time.Second
)

const (
	CacheKeyPrefixEventDedup = "notifdedup:"
	DefaultDedupTTLSeconds   = 86400
)

const (
	DefaultInputTopic  = "lease_lifecycle_events"
	DefaultOutputTopic = "notification_dispatch"
)

const DefaultMongoDBName = "trustpipe"

// PortalTokenTTL bounds every minted portal link. Fixed rather than
// configurable: a longer-lived capability link needs a design review, not a
// config change.
const PortalTokenTTL = 15 * time.Minute

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultExtraFieldWarnThreshold = 8
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
