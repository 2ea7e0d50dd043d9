package idempotency

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHashRequestIsDeterministic(t *testing.T) {
	memberID := uuid.New().String()
	instanceID := uuid.New().String()

	first := HashRequest(OpReserve, memberID, instanceID)
	second := HashRequest(OpReserve, memberID, instanceID)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashRequestSeparatesFields(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide
	assert.NotEqual(t, HashRequest("ab", "c"), HashRequest("a", "bc"))
}

func TestHashRequestDistinguishesOperations(t *testing.T) {
	memberID := uuid.New().String()
	instanceID := uuid.New().String()

	assert.NotEqual(t,
		HashRequest(OpReserve, memberID, instanceID),
		HashRequest(OpCancel, memberID, instanceID))
}

func TestKeyMatches(t *testing.T) {
	actorID := uuid.New()
	hash := HashRequest(OpReserve, actorID.String(), uuid.New().String())

	key := &Key{
		Key:         uuid.New(),
		Operation:   OpReserve,
		ActorID:     actorID,
		RequestHash: hash,
	}

	assert.True(t, key.Matches(OpReserve, actorID, hash))
	assert.False(t, key.Matches(OpCancel, actorID, hash), "same key for another operation is a reuse")
	assert.False(t, key.Matches(OpReserve, uuid.New(), hash), "another actor never matches")
	assert.False(t, key.Matches(OpReserve, actorID, HashRequest("other")), "changed body never matches")
}
