package secrets

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoResolver reads identities from a collection keyed by _id:
// {_id: "ssh-admin", username: "admin", private_key: "-----BEGIN ..."}.
type MongoResolver struct {
	coll *mongo.Collection
}

func NewMongoResolver(coll *mongo.Collection) *MongoResolver {
	return &MongoResolver{coll: coll}
}

func (r *MongoResolver) Resolve(ctx context.Context, key string) (Identity, error) {
	var rec record
	err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolve %s: %w", key, err)
	}
	if rec.PrivateKey == "" {
		return Identity{}, fmt.Errorf("identity %q has no private_key", key)
	}
	return rec.identity(key)
}
