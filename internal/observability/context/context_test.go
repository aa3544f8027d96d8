package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	assert.Len(t, first, 26)

	_, second := EnsureCorrelationID(ctx)
	assert.Equal(t, first, second)
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), " admin ", " 42 ")

	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, ActorTypeAdmin, actorType)
	assert.Equal(t, "42", actorID)

	actorType, actorID = ActorFromContext(context.Background())
	assert.Empty(t, actorType)
	assert.Empty(t, actorID)
}
