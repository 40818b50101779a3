package lvar

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAllocatesSequentialIDs(t *testing.T) {
	r := NewRegistry()

	id, created := r.Ensure("A")
	assert.True(t, created)
	assert.Equal(t, FirstID, id)

	id, created = r.Ensure("B")
	assert.True(t, created)
	assert.Equal(t, FirstID+1, id)

	id, created = r.Ensure("A")
	assert.False(t, created)
	assert.Equal(t, FirstID, id)
}

func TestEnsureConcurrentNamesGetOneID(t *testing.T) {
	r := NewRegistry()
	const names = 50
	const callers = 8

	var wg sync.WaitGroup
	ids := make([][]VariableID, callers)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			ids[c] = make([]VariableID, names)
			for i := 0; i < names; i++ {
				ids[c][i], _ = r.Ensure(fmt.Sprintf("VAR_%d", i))
			}
		}(c)
	}
	wg.Wait()

	seen := make(map[VariableID]string)
	for c := 0; c < callers; c++ {
		for i := 0; i < names; i++ {
			assert.Equal(t, ids[0][i], ids[c][i], "name VAR_%d", i)
		}
	}
	for i, id := range ids[0] {
		name := fmt.Sprintf("VAR_%d", i)
		if prev, dup := seen[id]; dup {
			t.Fatalf("id %d issued for %s and %s", id, prev, name)
		}
		seen[id] = name
	}
	assert.Equal(t, names, r.Len())
}

func TestStoreAndValue(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Ensure("A")

	_, updated, ok := r.Value(id)
	require.True(t, ok)
	assert.False(t, updated)

	assert.True(t, r.Store(id, 3.5))
	v, updated, ok := r.Value(id)
	require.True(t, ok)
	assert.True(t, updated)
	assert.Equal(t, 3.5, v)

	assert.False(t, r.Store(id+10, 1))
}

func TestPeekFastPath(t *testing.T) {
	r := NewRegistry()

	_, _, ready, known := r.Peek("A")
	assert.False(t, ready)
	assert.False(t, known)

	id, _ := r.Ensure("A")
	_, _, ready, known = r.Peek("A")
	assert.False(t, ready)
	assert.True(t, known)

	r.Store(id, 2)
	got, v, ready, known := r.Peek("A")
	assert.True(t, ready)
	assert.True(t, known)
	assert.Equal(t, id, got)
	assert.Equal(t, 2.0, v)
}

func TestClearResetsAllocator(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Clear())

	r.Ensure("A")
	r.Ensure("B")
	assert.Equal(t, 2, r.Clear())
	assert.Equal(t, 0, r.Len())

	_, ok := r.Lookup("A")
	assert.False(t, ok)

	id, created := r.Ensure("C")
	assert.True(t, created)
	assert.Equal(t, FirstID, id)
}

func TestSnapshotOrderedByID(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"C", "A", "B"} {
		r.Ensure(n)
	}
	id, _ := r.Lookup("A")
	r.Store(id, 1)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "C", snap[0].Name)
	assert.Equal(t, Record{ID: 2, Name: "A", Value: 1, Updated: true}, snap[1])
	assert.Equal(t, "B", snap[2].Name)
}
