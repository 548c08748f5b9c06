package vmstore

import (
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// VersionToken is the optimistic-lock marker stored with every document.
// The zero value means "never written".
type VersionToken string

// IsZero reports whether the token is absent.
func (t VersionToken) IsZero() bool { return t == "" }

func (t VersionToken) String() string { return string(t) }

// IDGenerator returns fresh unique identifiers. It is used for view model ids
// and version tokens.
type IDGenerator func() string

// ObjectIDGenerator returns 24-character hex object ids.
func ObjectIDGenerator() string {
	return bson.NewObjectID().Hex()
}

// UUIDGenerator returns random (version 4) UUIDs.
func UUIDGenerator() string {
	return uuid.NewString()
}

// ID formats accepted by Config.IDFormat.
const (
	IDFormatObjectID = "objectid"
	IDFormatUUID     = "uuid"
)

func generatorFor(format string) IDGenerator {
	if strings.EqualFold(format, IDFormatUUID) {
		return UUIDGenerator
	}
	return ObjectIDGenerator
}
