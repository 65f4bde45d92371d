package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.IDs(ctx, "Fungus")
	assert.ErrorIs(t, err, ErrEmptyIndex)

	for _, id := range []string{"c", "a", "b"} {
		created, err := s.Put(ctx, Key{SID: id, Stem: "Fungus"})
		require.NoError(t, err)
		assert.True(t, created)
	}
	_, err = s.Put(ctx, Key{SID: "z", Stem: "Spore"})
	require.NoError(t, err)

	ids, err := s.IDs(ctx, "Fungus")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryStore_PutOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	k := Key{SID: "a", Stem: "Fungus"}

	created, err := s.Put(ctx, k)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.Put(ctx, k)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryStore_Linked(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	k := Key{SID: "a", Stem: "Fungus"}

	assert.Error(t, s.SetLinked(ctx, k, true), "unknown vertex")
	_, err := s.Put(ctx, k)
	require.NoError(t, err)
	require.NoError(t, s.SetLinked(ctx, k, true))
	assert.True(t, s.Linked(k))
	require.NoError(t, s.SetLinked(ctx, k, false))
	assert.False(t, s.Linked(k))
}

func TestMemoryStore_AdvanceOnlyRaises(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	k := Key{SID: "a", Stem: "Fungus"}

	v, err := s.Progress(ctx, k, "change:genome")
	require.NoError(t, err)
	assert.Zero(t, v)

	steps := []struct {
		value   int64
		changed bool
		want    int64
	}{
		{value: 5, changed: true, want: 5},
		{value: 3, changed: false, want: 5},
		{value: 5, changed: false, want: 5},
		{value: 9, changed: true, want: 9},
	}
	for _, st := range steps {
		changed, err := s.Advance(ctx, k, "change:genome", st.value)
		require.NoError(t, err)
		assert.Equal(t, st.changed, changed, "advance to %d", st.value)
		v, err := s.Progress(ctx, k, "change:genome")
		require.NoError(t, err)
		assert.Equal(t, st.want, v)
	}

	other, err := s.Progress(ctx, k, "change:spores")
	require.NoError(t, err)
	assert.Zero(t, other, "stages are independent")
}
