package verification

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"

	"trustpipe/internal/constants"
	"trustpipe/pkg/errors"
)

// LeaseStore is the read-only lookup into the lease system-of-record.
// A nil record with nil error means the lease does not exist.
type LeaseStore interface {
	Get(ctx context.Context, key LeaseKey) (*LeaseRecord, error)
}

// AccountStore is the read-only lookup into the account registry.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*AccountRecord, error)
}

const (
	leaseCollection   = "leases"
	accountCollection = "accounts"
)

type MongoLeaseStore struct {
	collection *mongo.Collection
}

// NewMongoLeaseStore opens the lease collection with linearizable read
// concern. Eventual consistency is not acceptable here: a stale read could
// authorize a notification to a just-revoked owner.
func NewMongoLeaseStore(db *mongo.Database) *MongoLeaseStore {
	coll := db.Collection(leaseCollection,
		options.Collection().SetReadConcern(readconcern.Linearizable()),
	)
	return &MongoLeaseStore{collection: coll}
}

func (s *MongoLeaseStore) Get(ctx context.Context, key LeaseKey) (*LeaseRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreLookupTimeout)
	defer cancel()

	filter := bson.M{
		"owner_email": strings.ToLower(key.OwnerEmail),
		"lease_id":    key.LeaseID,
	}

	var record LeaseRecord
	err := s.collection.FindOne(ctx, filter).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Retriable("STORE_UNAVAILABLE", "lease store lookup failed").WithCause(err)
	}

	return &record, nil
}

type MongoAccountStore struct {
	collection *mongo.Collection
}

func NewMongoAccountStore(db *mongo.Database) *MongoAccountStore {
	coll := db.Collection(accountCollection,
		options.Collection().SetReadConcern(readconcern.Majority()),
	)
	return &MongoAccountStore{collection: coll}
}

func (s *MongoAccountStore) Get(ctx context.Context, accountID string) (*AccountRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreLookupTimeout)
	defer cancel()

	var record AccountRecord
	err := s.collection.FindOne(ctx, bson.M{"account_id": accountID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Retriable("STORE_UNAVAILABLE", "account store lookup failed").WithCause(err)
	}

	return &record, nil
}
