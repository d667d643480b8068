package room_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Czou/kmf-tutorial/internal/room"
)

func TestManagerGetOrCreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("same name yields the same room", func(t *testing.T) {
		f := &fakeFactory{}
		m := room.NewManager(f)

		r1, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)
		r2, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)

		assert.Same(t, r1, r2)
		assert.Equal(t, 1, f.created())
	})

	t.Run("concurrent first joins create one room and one pipeline", func(t *testing.T) {
		f := &fakeFactory{}
		m := room.NewManager(f)

		const n = 16
		rooms := make([]*room.Room, n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				r, err := m.GetOrCreateRoom(ctx, "R")
				assert.NoError(t, err)
				rooms[i] = r
			}(i)
		}
		wg.Wait()

		for i := 1; i < n; i++ {
			assert.Same(t, rooms[0], rooms[i])
		}
		assert.Equal(t, 1, f.created())
	})

	t.Run("pipeline factory failure surfaces", func(t *testing.T) {
		f := &fakeFactory{createErr: assert.AnError}
		m := room.NewManager(f)

		_, err := m.GetOrCreateRoom(ctx, "R")
		require.Error(t, err)
		_, ok := m.Get("R")
		assert.False(t, ok)
	})
}

func TestManagerRemoveRoomIfEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("empty room is destroyed with its pipeline", func(t *testing.T) {
		f := &fakeFactory{}
		m := room.NewManager(f)

		_, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)

		m.RemoveRoomIfEmpty("R")
		_, ok := m.Get("R")
		assert.False(t, ok)
		assert.Equal(t, 1, f.pipelines[0].releaseCount())

		// Redundant removal is safe.
		m.RemoveRoomIfEmpty("R")
		assert.Equal(t, 1, f.pipelines[0].releaseCount())
	})

	t.Run("recreated room gets a fresh pipeline", func(t *testing.T) {
		f := &fakeFactory{}
		m := room.NewManager(f)

		r1, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)
		m.RemoveRoomIfEmpty("R")

		r2, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)

		assert.NotSame(t, r1, r2)
		require.Equal(t, 2, f.created())
		assert.Equal(t, 1, f.pipelines[0].releaseCount())
		assert.Zero(t, f.pipelines[1].releaseCount())
	})

	t.Run("occupied room stays", func(t *testing.T) {
		f := &fakeFactory{}
		m := room.NewManager(f)

		r, err := m.GetOrCreateRoom(ctx, "R")
		require.NoError(t, err)
		_, err = r.Join(ctx, "Alice", "s1", &fakeSignal{})
		require.NoError(t, err)

		m.RemoveRoomIfEmpty("R")
		got, ok := m.Get("R")
		require.True(t, ok)
		assert.Same(t, r, got)
		assert.Zero(t, f.pipelines[0].releaseCount())
	})
}

func TestManagerList(t *testing.T) {
	ctx := context.Background()
	f := &fakeFactory{}
	m := room.NewManager(f)

	r, err := m.GetOrCreateRoom(ctx, "R")
	require.NoError(t, err)
	_, err = r.Join(ctx, "Alice", "s1", &fakeSignal{})
	require.NoError(t, err)
	_, err = m.GetOrCreateRoom(ctx, "Q")
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	byName := map[string]int{}
	for _, info := range infos {
		byName[info.Name] = info.MemberCount
	}
	assert.Equal(t, 1, byName["R"])
	assert.Equal(t, 0, byName["Q"])
}

func TestManagerShutdown(t *testing.T) {
	ctx := context.Background()
	f := &fakeFactory{}
	m := room.NewManager(f)

	r, err := m.GetOrCreateRoom(ctx, "R")
	require.NoError(t, err)
	alice, err := r.Join(ctx, "Alice", "s1", &fakeSignal{})
	require.NoError(t, err)
	_, err = m.GetOrCreateRoom(ctx, "Q")
	require.NoError(t, err)

	m.Shutdown()

	assert.Equal(t, 1, alice.OutboundEndpoint().(*fakeEndpoint).releaseCount())
	assert.Equal(t, 1, f.pipelines[0].releaseCount())
	assert.Equal(t, 1, f.pipelines[1].releaseCount())
	_, ok := m.Get("R")
	assert.False(t, ok)
}
