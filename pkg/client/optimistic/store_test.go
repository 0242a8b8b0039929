package optimistic

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feeding struct {
	ID    string `json:"id"`
	Brand string `json:"brand"`
	Mood  int    `json:"moodRating"`
}

func newFeedingStore() *Store[feeding] {
	s := NewStore(func(f feeding) string { return f.ID },
		WithPlaceholder(func(f feeding, tempID string) feeding {
			f.ID = tempID
			return f
		}),
	)
	s.Load([]feeding{{ID: "1", Brand: "Acme", Mood: 3}, {ID: "2", Brand: "Zest", Mood: 4}}, Balance{Tokens: 1000})
	return s
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCreateRollbackIsByteEqual(t *testing.T) {
	s := newFeedingStore()
	before := encode(t, s.Snapshot())

	m := s.BeginCreate(feeding{Brand: "Nova", Mood: 5})
	assert.Equal(t, Optimistic, m.State())
	assert.True(t, strings.HasPrefix(m.Key(), "tmp_"))
	assert.True(t, s.Pending(m.Key()))
	assert.Len(t, s.Snapshot().Entities, 3)

	require.NoError(t, m.Reconcile(Err[feeding]{Status: 403, Kind: "insufficient_balance", Message: "not enough tokens"}))
	assert.Equal(t, RolledBack, m.State())
	assert.Equal(t, before, encode(t, s.Snapshot()))
}

func TestCreateReconcileReplacesPlaceholder(t *testing.T) {
	s := newFeedingStore()
	m := s.BeginCreate(feeding{Brand: "Nova", Mood: 5})

	server := feeding{ID: "99", Brand: "Nova", Mood: 5}
	require.NoError(t, m.Reconcile(Ok[feeding]{Entity: server, Balance: Balance{Tokens: 920, TokensUsed: 80}}))
	assert.Equal(t, Reconciled, m.State())

	view := s.Snapshot()
	assert.Equal(t, Balance{Tokens: 920, TokensUsed: 80}, view.Balance)
	assert.Equal(t, []feeding{{ID: "1", Brand: "Acme", Mood: 3}, {ID: "2", Brand: "Zest", Mood: 4}, server}, view.Entities)
	assert.False(t, s.Pending(m.Key()))
	assert.False(t, s.Pending("99"))
}

func TestDoubleSubmitNeverCrossMatches(t *testing.T) {
	s := newFeedingStore()
	first := s.BeginCreate(feeding{Brand: "A", Mood: 1})
	second := s.BeginCreate(feeding{Brand: "B", Mood: 2})
	require.NotEqual(t, first.Key(), second.Key())

	require.NoError(t, second.Reconcile(Ok[feeding]{Entity: feeding{ID: "11", Brand: "B", Mood: 2}, Balance: Balance{Tokens: 915, TokensUsed: 85}}))
	require.NoError(t, first.Reconcile(Err[feeding]{Kind: "transaction_failure"}))

	view := s.Snapshot()
	require.Len(t, view.Entities, 3)
	assert.Equal(t, "11", view.Entities[2].ID)
	assert.Equal(t, int64(915), view.Balance.Tokens)
}

func TestReconcileAfterRemovalKeepsListButAppliesBalance(t *testing.T) {
	s := newFeedingStore()
	m := s.BeginCreate(feeding{Brand: "Gone"})
	require.True(t, s.Remove(m.Key()))

	require.NoError(t, m.Reconcile(Ok[feeding]{Entity: feeding{ID: "7", Brand: "Gone"}, Balance: Balance{Tokens: 915, TokensUsed: 85}}))
	view := s.Snapshot()
	assert.Len(t, view.Entities, 2)
	assert.Equal(t, Balance{Tokens: 915, TokensUsed: 85}, view.Balance)
}

func TestUpdate(t *testing.T) {
	t.Run("rollback restores snapshot for that id only", func(t *testing.T) {
		s := newFeedingStore()
		m, err := s.BeginUpdate("1", func(f feeding) feeding {
			f.Mood = 1
			return f
		})
		require.NoError(t, err)
		other, err := s.BeginUpdate("2", func(f feeding) feeding {
			f.Brand = "Edited"
			return f
		})
		require.NoError(t, err)
		assert.Equal(t, 1, s.Snapshot().Entities[0].Mood)

		require.NoError(t, m.Reconcile(Err[feeding]{Kind: "forbidden"}))
		view := s.Snapshot()
		assert.Equal(t, feeding{ID: "1", Brand: "Acme", Mood: 3}, view.Entities[0])
		assert.Equal(t, "Edited", view.Entities[1].Brand)
		assert.Equal(t, Optimistic, other.State())
	})

	t.Run("ok adopts server truth", func(t *testing.T) {
		s := newFeedingStore()
		m, err := s.BeginUpdate("2", func(f feeding) feeding {
			f.Mood = 5
			return f
		})
		require.NoError(t, err)
		require.NoError(t, m.Reconcile(Ok[feeding]{Entity: feeding{ID: "2", Brand: "Zest", Mood: 5}, Balance: Balance{Tokens: 950, TokensUsed: 50}}))
		view := s.Snapshot()
		assert.Equal(t, feeding{ID: "2", Brand: "Zest", Mood: 5}, view.Entities[1])
		assert.Equal(t, int64(950), view.Balance.Tokens)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newFeedingStore()
		_, err := s.BeginUpdate("404", func(f feeding) feeding { return f })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	t.Run("rollback reinserts at original position", func(t *testing.T) {
		s := newFeedingStore()
		before := encode(t, s.Snapshot())

		m, err := s.BeginDelete("1")
		require.NoError(t, err)
		assert.Len(t, s.Snapshot().Entities, 1)

		require.NoError(t, m.Reconcile(Err[feeding]{Kind: "insufficient_balance"}))
		assert.Equal(t, before, encode(t, s.Snapshot()))
	})

	t.Run("ok charges balance", func(t *testing.T) {
		s := newFeedingStore()
		m, err := s.BeginDelete("2")
		require.NoError(t, err)
		require.NoError(t, m.Reconcile(Ok[feeding]{Entity: feeding{ID: "2"}, Balance: Balance{Tokens: 915, TokensUsed: 85}}))

		view := s.Snapshot()
		assert.Equal(t, []feeding{{ID: "1", Brand: "Acme", Mood: 3}}, view.Entities)
		assert.Equal(t, Balance{Tokens: 915, TokensUsed: 85}, view.Balance)
	})
}

func setMood(mood int) func(feeding) feeding {
	return func(f feeding) feeding {
		f.Mood = mood
		return f
	}
}

func setBrand(brand string) func(feeding) feeding {
	return func(f feeding) feeding {
		f.Brand = brand
		return f
	}
}

func TestStackedMutations(t *testing.T) {
	forbidden := Err[feeding]{Status: 403, Kind: "forbidden"}
	acme := feeding{ID: "1", Brand: "Acme", Mood: 3}

	t.Run("two failed updates restore the confirmed entity", func(t *testing.T) {
		s := newFeedingStore()
		first, err := s.BeginUpdate("1", setMood(1))
		require.NoError(t, err)
		second, err := s.BeginUpdate("1", setBrand("Edited"))
		require.NoError(t, err)
		assert.Equal(t, feeding{ID: "1", Brand: "Edited", Mood: 1}, s.Snapshot().Entities[0])

		require.NoError(t, first.Reconcile(forbidden))
		assert.Equal(t, feeding{ID: "1", Brand: "Edited", Mood: 3}, s.Snapshot().Entities[0])
		assert.True(t, s.Pending("1"))

		require.NoError(t, second.Reconcile(forbidden))
		assert.Equal(t, acme, s.Snapshot().Entities[0])
		assert.False(t, s.Pending("1"))
	})

	t.Run("failures settled newest first", func(t *testing.T) {
		s := newFeedingStore()
		first, err := s.BeginUpdate("1", setMood(1))
		require.NoError(t, err)
		second, err := s.BeginUpdate("1", setBrand("Edited"))
		require.NoError(t, err)

		require.NoError(t, second.Reconcile(forbidden))
		assert.Equal(t, feeding{ID: "1", Brand: "Acme", Mood: 1}, s.Snapshot().Entities[0])
		require.NoError(t, first.Reconcile(forbidden))
		assert.Equal(t, acme, s.Snapshot().Entities[0])
	})

	t.Run("failed update then failed delete", func(t *testing.T) {
		s := newFeedingStore()
		before := encode(t, s.Snapshot())
		update, err := s.BeginUpdate("1", setMood(1))
		require.NoError(t, err)
		del, err := s.BeginDelete("1")
		require.NoError(t, err)
		assert.Len(t, s.Snapshot().Entities, 1)

		require.NoError(t, update.Reconcile(forbidden))
		assert.Len(t, s.Snapshot().Entities, 1)

		require.NoError(t, del.Reconcile(forbidden))
		assert.Equal(t, before, encode(t, s.Snapshot()))
	})

	t.Run("pending update survives on top of server truth", func(t *testing.T) {
		s := newFeedingStore()
		first, err := s.BeginUpdate("1", setMood(1))
		require.NoError(t, err)
		second, err := s.BeginUpdate("1", setBrand("Edited"))
		require.NoError(t, err)

		require.NoError(t, first.Reconcile(Ok[feeding]{Entity: feeding{ID: "1", Brand: "Acme", Mood: 1}, Balance: Balance{Tokens: 950, TokensUsed: 50}}))
		assert.Equal(t, feeding{ID: "1", Brand: "Edited", Mood: 1}, s.Snapshot().Entities[0])

		require.NoError(t, second.Reconcile(forbidden))
		view := s.Snapshot()
		assert.Equal(t, feeding{ID: "1", Brand: "Acme", Mood: 1}, view.Entities[0])
		assert.Equal(t, int64(950), view.Balance.Tokens)
	})

	t.Run("confirmed delete wins over a failed update", func(t *testing.T) {
		s := newFeedingStore()
		update, err := s.BeginUpdate("1", setMood(1))
		require.NoError(t, err)
		del, err := s.BeginDelete("1")
		require.NoError(t, err)

		require.NoError(t, del.Reconcile(Ok[feeding]{Entity: feeding{ID: "1"}, Balance: Balance{Tokens: 915, TokensUsed: 85}}))
		require.NoError(t, update.Reconcile(forbidden))
		assert.Equal(t, []feeding{{ID: "2", Brand: "Zest", Mood: 4}}, s.Snapshot().Entities)
	})

	t.Run("load keeps in-flight edits", func(t *testing.T) {
		s := newFeedingStore()
		m, err := s.BeginUpdate("1", setBrand("Edited"))
		require.NoError(t, err)

		s.Load([]feeding{{ID: "1", Brand: "Acme", Mood: 2}, {ID: "2", Brand: "Zest", Mood: 4}}, Balance{Tokens: 990})
		assert.Equal(t, feeding{ID: "1", Brand: "Edited", Mood: 2}, s.Snapshot().Entities[0])

		require.NoError(t, m.Reconcile(forbidden))
		assert.Equal(t, feeding{ID: "1", Brand: "Acme", Mood: 2}, s.Snapshot().Entities[0])
	})
}

func TestDeleteRollbackUsesNeighbours(t *testing.T) {
	s := NewStore(func(f feeding) string { return f.ID })
	s.Load([]feeding{{ID: "1"}, {ID: "2"}, {ID: "3"}}, Balance{Tokens: 1000})

	second, err := s.BeginDelete("2")
	require.NoError(t, err)
	first, err := s.BeginDelete("1")
	require.NoError(t, err)
	require.NoError(t, first.Reconcile(Ok[feeding]{Entity: feeding{ID: "1"}, Balance: Balance{Tokens: 915, TokensUsed: 85}}))

	require.NoError(t, second.Reconcile(Err[feeding]{Kind: "insufficient_balance"}))
	assert.Equal(t, []feeding{{ID: "2"}, {ID: "3"}}, s.Snapshot().Entities)
}

func TestReconcileOnce(t *testing.T) {
	s := newFeedingStore()
	m := s.BeginCreate(feeding{Brand: "X"})
	require.NoError(t, m.Reconcile(Err[feeding]{Kind: "unknown"}))
	assert.ErrorIs(t, m.Reconcile(Ok[feeding]{Entity: feeding{ID: "5"}}), ErrAlreadySettled)
	assert.Len(t, s.Snapshot().Entities, 2)
}

func TestCreateIgnoresCallerCancellation(t *testing.T) {
	s := newFeedingStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Create(ctx, feeding{Brand: "Late"}, func(ctx context.Context) Outcome[feeding] {
		if ctx.Err() != nil {
			return Err[feeding]{Kind: "cancelled"}
		}
		return Ok[feeding]{Entity: feeding{ID: "42", Brand: "Late"}, Balance: Balance{Tokens: 915, TokensUsed: 85}}
	})
	_, ok := out.(Ok[feeding])
	require.True(t, ok)
	assert.Equal(t, "42", s.Snapshot().Entities[2].ID)
}

func TestUpdateAndDeleteConvenience(t *testing.T) {
	s := newFeedingStore()

	out, err := s.Update(context.Background(), "1", func(f feeding) feeding {
		f.Brand = "Renamed"
		return f
	}, func(_ context.Context, f feeding) Outcome[feeding] {
		assert.Equal(t, "Renamed", f.Brand)
		return Err[feeding]{Kind: "validation_error"}
	})
	require.NoError(t, err)
	_, failed := out.(Err[feeding])
	assert.True(t, failed)
	assert.Equal(t, "Acme", s.Snapshot().Entities[0].Brand)

	_, err = s.Delete(context.Background(), "2", func(context.Context) Outcome[feeding] {
		return Ok[feeding]{Entity: feeding{ID: "2"}, Balance: Balance{Tokens: 960, TokensUsed: 40}}
	})
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Entities, 1)

	_, err = s.Delete(context.Background(), "2", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotNeverTearsEntityFromBalance(t *testing.T) {
	s := NewStore(func(f feeding) string { return f.ID })
	s.Load(nil, Balance{Tokens: 10000})

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := s.BeginCreate(feeding{Brand: "x"})
			_ = m.Reconcile(Ok[feeding]{
				Entity:  feeding{ID: m.Key() + "-srv"},
				Balance: Balance{Tokens: 10000 - int64(i+1), TokensUsed: int64(i + 1)},
			})
		}(i)
	}
	wg.Wait()

	view := s.Snapshot()
	assert.Len(t, view.Entities, writers)
	assert.Equal(t, int64(10000), view.Balance.Tokens+view.Balance.TokensUsed)
}
