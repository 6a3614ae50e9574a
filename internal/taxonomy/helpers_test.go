package taxonomy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"labeller/api/internal/store"
)

// countingStore wraps a real store and counts every write made through it.
type countingStore struct {
	inner  *store.SQLStore
	writes int
}

func (s *countingStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inner.RunInTx(ctx, func(tx store.Tx) error {
		return fn(&countingTx{Tx: tx, writes: &s.writes})
	})
}

func (s *countingStore) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inner.View(ctx, func(tx store.Tx) error {
		return fn(&countingTx{Tx: tx, writes: &s.writes})
	})
}

type countingTx struct {
	store.Tx
	writes *int
}

func (t *countingTx) InsertColourScheme(ctx context.Context, v store.ColourScheme) (int64, error) {
	*t.writes++
	return t.Tx.InsertColourScheme(ctx, v)
}

func (t *countingTx) UpdateColourScheme(ctx context.Context, v store.ColourScheme) error {
	*t.writes++
	return t.Tx.UpdateColourScheme(ctx, v)
}

func (t *countingTx) InsertGroup(ctx context.Context, v store.LabelClassGroup) (int64, error) {
	*t.writes++
	return t.Tx.InsertGroup(ctx, v)
}

func (t *countingTx) UpdateGroup(ctx context.Context, v store.LabelClassGroup) error {
	*t.writes++
	return t.Tx.UpdateGroup(ctx, v)
}

func (t *countingTx) SetGroupOrderIndex(ctx context.Context, id int64, idx int) error {
	*t.writes++
	return t.Tx.SetGroupOrderIndex(ctx, id, idx)
}

func (t *countingTx) InsertLabelClass(ctx context.Context, v store.LabelClass) (int64, error) {
	*t.writes++
	return t.Tx.InsertLabelClass(ctx, v)
}

func (t *countingTx) UpdateLabelClass(ctx context.Context, v store.LabelClass) error {
	*t.writes++
	return t.Tx.UpdateLabelClass(ctx, v)
}

func (t *countingTx) SetLabelClassOrderIndex(ctx context.Context, id int64, idx int) error {
	*t.writes++
	return t.Tx.SetLabelClassOrderIndex(ctx, id, idx)
}

func (t *countingTx) InsertColourAssignment(ctx context.Context, v store.ColourAssignment) (int64, error) {
	*t.writes++
	return t.Tx.InsertColourAssignment(ctx, v)
}

func (t *countingTx) UpdateColourAssignmentColour(ctx context.Context, id int64, colour string) error {
	*t.writes++
	return t.Tx.UpdateColourAssignmentColour(ctx, id, colour)
}

func newTestEditor(t *testing.T, opts ...Option) (*Editor, *countingStore) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := store.MigrationsPath(filepath.Join("..", "..", "db", "migrations"), store.DriverSQLite)
	require.NoError(t, store.ApplyMigrations(ctx, db, store.DriverSQLite, dir))

	cs := &countingStore{inner: store.NewSQLStore(db, store.DriverSQLite)}
	return NewEditor(cs, opts...), cs
}

func seedGroups(t *testing.T, s *countingStore, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(names))
	err := s.inner.RunInTx(ctx, func(tx store.Tx) error {
		for i, name := range names {
			id, err := tx.InsertGroup(ctx, store.LabelClassGroup{HumanName: name, Active: true, OrderIndex: i})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func seedClasses(t *testing.T, s *countingStore, groupID int64, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(names))
	err := s.inner.RunInTx(ctx, func(tx store.Tx) error {
		for i, name := range names {
			id, err := tx.InsertLabelClass(ctx, store.LabelClass{
				GroupID:       groupID,
				Name:          name,
				HumanName:     name,
				Active:        true,
				DefaultColour: NewClassColour,
				OrderIndex:    i,
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func seedScheme(t *testing.T, s *countingStore, name string) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := s.inner.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.InsertColourScheme(ctx, store.ColourScheme{Name: name, HumanName: name, Active: true})
		return err
	})
	require.NoError(t, err)
	return id
}

// groupNames lists group names in display order and checks that their
// order indices are exactly 0..N-1.
func groupNames(t *testing.T, s *countingStore) []string {
	t.Helper()
	ctx := context.Background()
	var names []string
	err := s.inner.View(ctx, func(tx store.Tx) error {
		groups, err := tx.ListGroups(ctx)
		if err != nil {
			return err
		}
		for i, g := range groups {
			require.Equal(t, i, g.OrderIndex, "group %q", g.HumanName)
			names = append(names, g.HumanName)
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func classNames(t *testing.T, s *countingStore, groupID int64) []string {
	t.Helper()
	ctx := context.Background()
	var names []string
	err := s.inner.View(ctx, func(tx store.Tx) error {
		classes, err := tx.ListLabelClasses(ctx, groupID)
		if err != nil {
			return err
		}
		for i, c := range classes {
			require.Equal(t, i, c.OrderIndex, "label class %q", c.Name)
			names = append(names, c.Name)
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func getClass(t *testing.T, s *countingStore, id int64) store.LabelClass {
	t.Helper()
	ctx := context.Background()
	var class store.LabelClass
	err := s.inner.View(ctx, func(tx store.Tx) error {
		var err error
		class, err = tx.GetLabelClass(ctx, id)
		return err
	})
	require.NoError(t, err)
	return class
}

func ptr[T any](v T) *T {
	return &v
}
