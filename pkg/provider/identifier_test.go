package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifierRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		id    ItemIdentifier
		token string
	}{
		{"root", Root, "__root__"},
		{"working set", WorkingSet, "__workingset__"},
		{"entry", Entry("abc123"), "abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.token, tt.id.String())
			assert.Equal(t, tt.id, ParseIdentifier(tt.token))
		})
	}
}

func TestIdentifierKinds(t *testing.T) {
	assert.True(t, Root.IsRoot())
	assert.True(t, WorkingSet.IsWorkingSet())
	assert.True(t, Entry("x").IsEntry())
	assert.Equal(t, "x", Entry("x").OcID())
	assert.Empty(t, Root.OcID())

	// The zero value behaves as the root container.
	var zero ItemIdentifier
	assert.True(t, zero.IsRoot())
}
