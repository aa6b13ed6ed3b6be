package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderIsAFactory(t *testing.T) {
	b := NewModifierBuilder("might").Stacking().Buff(StatAttack, 1)

	first, second := b.Build(), b.Build()
	require.Len(t, first.Mixins(), 1)
	require.Len(t, second.Mixins(), 1)
	assert.NotSame(t, first, second)
	assert.NotSame(t, first.Mixins()[0], second.Mixins()[0], "mixins are never shared between modifiers")
	assert.True(t, first.Stackable())
}

func TestBuildFromLeavesBuilderUnchanged(t *testing.T) {
	b := NewModifierBuilder("inspired").Buff(StatAttack, 1)

	assert.Equal(t, "banner-1", b.BuildFrom("banner-1").SourceID())
	assert.Empty(t, b.Build().SourceID())
	assert.Equal(t, "general", b.From("general").Build().SourceID())
}
