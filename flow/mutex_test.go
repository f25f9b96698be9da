package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/botflow/types"
)

func TestMutexLockAndRenew(t *testing.T) {
	table := newMutexTable()
	now := time.Now()

	lease, err := table.lock("main.flow.json", "alice", now)
	require.NoError(t, err)
	assert.Equal(t, "alice", lease.LastModifiedBy)

	// The same editor renews freely.
	renewed, err := table.lock("main.flow.json", "alice", now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "alice", renewed.LastModifiedBy)
}

func TestMutexConflict(t *testing.T) {
	table := newMutexTable()
	now := time.Now()

	_, err := table.lock("main.flow.json", "alice", now)
	require.NoError(t, err)

	_, err = table.lock("main.flow.json", "bob", now.Add(5*time.Second))
	require.Error(t, err)

	var merr *types.MutexError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "main.flow.json", merr.Flow)
	assert.Equal(t, "alice", merr.Owner)
}

func TestMutexExpiredLeaseIsTakenOver(t *testing.T) {
	table := newMutexTable()
	now := time.Now()

	_, err := table.lock("main.flow.json", "alice", now)
	require.NoError(t, err)

	lease, err := table.lock("main.flow.json", "bob", now.Add(mutexLease+time.Second))
	require.NoError(t, err)
	assert.Equal(t, "bob", lease.LastModifiedBy)
}

func TestMutexPeek(t *testing.T) {
	table := newMutexTable()
	now := time.Now()

	assert.Nil(t, table.peek("main.flow.json", now))

	_, err := table.lock("main.flow.json", "alice", now)
	require.NoError(t, err)

	lease := table.peek("main.flow.json", now.Add(10*time.Second))
	require.NotNil(t, lease)
	assert.Equal(t, "alice", lease.LastModifiedBy)
	assert.Equal(t, 20, lease.RemainingSeconds)

	expired := table.peek("main.flow.json", now.Add(time.Minute))
	require.NotNil(t, expired)
	assert.Zero(t, expired.RemainingSeconds)
}
