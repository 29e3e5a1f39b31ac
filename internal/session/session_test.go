package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

func TestStoreGetMissing(t *testing.T) {
	st := NewStore()

	_, version, ok := st.Get(42)
	assert.False(t, ok)
	assert.Zero(t, version)
}

func TestStorePutSupersedes(t *testing.T) {
	st := NewStore()

	st.Put(42, Session{State: StateAwaitingAmount})
	st.Put(42, Session{State: StateAwaitingLink, Kind: model.ServiceKindLikes})

	s, _, ok := st.Get(42)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingLink, s.State)
	assert.Equal(t, model.ServiceKindLikes, s.Kind)
}

func TestStoreCompareAndSwap(t *testing.T) {
	st := NewStore()
	st.Put(42, Session{State: StateAwaitingLink})

	s, version, ok := st.Get(42)
	require.True(t, ok)

	s.State = StateAwaitingQuantity
	s.Link = "https://instagram.com/p/abc/"
	require.True(t, st.CompareAndSwap(42, version, s))

	// Повторный своп со старой версией должен быть отвергнут.
	assert.False(t, st.CompareAndSwap(42, version, s))

	got, _, ok := st.Get(42)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingQuantity, got.State)
	assert.Equal(t, "https://instagram.com/p/abc/", got.Link)
}

func TestStoreClearVersioned(t *testing.T) {
	st := NewStore()
	st.Put(42, Session{State: StateAwaitingConfirmation})

	_, version, ok := st.Get(42)
	require.True(t, ok)

	assert.True(t, st.Clear(42, version))
	assert.False(t, st.Clear(42, version))

	_, _, ok = st.Get(42)
	assert.False(t, ok)
}

func TestStoreDrop(t *testing.T) {
	st := NewStore()
	st.Put(42, Session{State: StateAwaitingProof})

	st.Drop(42)

	_, _, ok := st.Get(42)
	assert.False(t, ok)
}

func TestStoreConcurrentSwapsLoseAllButOne(t *testing.T) {
	st := NewStore()
	st.Put(42, Session{State: StateAwaitingQuantity})

	_, version, ok := st.Get(42)
	require.True(t, ok)

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan int, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			if st.CompareAndSwap(42, version, Session{State: StateAwaitingConfirmation, Quantity: q}) {
				wins <- q
			}
		}(i)
	}

	wg.Wait()
	close(wins)

	var won []int
	for q := range wins {
		won = append(won, q)
	}
	require.Len(t, won, 1)

	s, _, ok := st.Get(42)
	require.True(t, ok)
	assert.Equal(t, won[0], s.Quantity)
}
