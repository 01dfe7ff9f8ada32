package cycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadRoles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, RoleNone, RoleFrom(ctx))
	assert.False(t, IsProcessingThread(ctx))

	worker := WithRole(ctx, RoleWorker)
	assert.True(t, IsProcessingThread(worker))
	assert.False(t, IsKickoffThread(worker))

	kick := WithRole(ctx, RoleKickoff)
	assert.True(t, IsProcessingThread(kick))
	assert.True(t, IsKickoffThread(kick))
	assert.Equal(t, "kickoff", RoleFrom(kick).String())
}

func TestTimeInfoFinal(t *testing.T) {
	t.Parallel()

	ti := TimeInfo{LocalOffset: 128, NFrames: 128}
	assert.True(t, ti.IsFinal(256))
	assert.False(t, TimeInfo{NFrames: 128}.IsFinal(256))
	assert.Equal(t, uint32(256), ti.End())
}
