package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			version:   UnknownValue,
			buildDate: UnknownValue,
		},
		{
			name:      "empty values",
			ctx:       &Context{},
			version:   UnknownValue,
			buildDate: UnknownValue,
		},
		{
			name:      "pre-release version",
			ctx:       New("1.0.0-beta.1", "2026-01-01"),
			version:   "1.0.0-beta.1",
			buildDate: "2026-01-01",
		},
		{
			name:      "build metadata",
			ctx:       New("1.0.0+build.123", ""),
			version:   "1.0.0+build.123",
			buildDate: UnknownValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestNewAssignsInstanceID(t *testing.T) {
	t.Parallel()

	a := New("dev", "")
	b := New("dev", "")
	_, err := uuid.Parse(a.GetInstanceID())
	require.NoError(t, err)
	assert.NotEqual(t, a.GetInstanceID(), b.GetInstanceID())

	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.GetInstanceID())

	var _ BuildInfo = a
}
