package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name"`
}

func newItems(t *testing.T) *Document[[]item] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	return NewDocument(path, "items", func() []item { return []item{} }, nil)
}

func TestDocument_MissingFileYieldsDefaults(t *testing.T) {
	doc := newItems(t)
	assert.Empty(t, doc.Load())
	_, err := os.Stat(doc.Path())
	assert.True(t, os.IsNotExist(err), "load must not create the file")
}

func TestDocument_SaveAndLoad(t *testing.T) {
	doc := newItems(t)
	require.NoError(t, doc.Save([]item{{Name: "api"}, {Name: "web"}}))

	got := doc.Load()
	assert.Equal(t, []item{{Name: "api"}, {Name: "web"}}, got)
}

func TestDocument_AcceptsLegacyEnvelope(t *testing.T) {
	doc := newItems(t)
	require.NoError(t, os.WriteFile(doc.Path(), []byte(`{"version": 1, "items": [{"name": "legacy"}]}`), 0o644))

	assert.Equal(t, []item{{Name: "legacy"}}, doc.Load())

	// The next write normalizes to the bare array form.
	require.NoError(t, doc.Update(func(v *[]item) error {
		*v = append(*v, item{Name: "new"})
		return nil
	}))
	data, err := os.ReadFile(doc.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "["))
}

func TestDocument_CorruptFileIsBackedUp(t *testing.T) {
	doc := newItems(t)
	doc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, os.WriteFile(doc.Path(), []byte(`{not json`), 0o644))

	assert.Empty(t, doc.Load())

	backup := doc.Path() + ".corrupt-20260102T030405"
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, `{not json`, string(data))
}

func TestDocument_UpdateErrorKeepsPriorState(t *testing.T) {
	doc := newItems(t)
	require.NoError(t, doc.Save([]item{{Name: "keep"}}))

	err := doc.Update(func(v *[]item) error {
		*v = nil
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []item{{Name: "keep"}}, doc.Load())
}

func TestDocument_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	doc := newItems(t)
	// A second handle on the same file shares the critical section.
	other := NewDocument(doc.Path(), "items", func() []item { return []item{} }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		d := doc
		if i%2 == 1 {
			d = other
		}
		go func(d *Document[[]item]) {
			defer wg.Done()
			_ = d.Update(func(v *[]item) error {
				*v = append(*v, item{Name: "x"})
				return nil
			})
		}(d)
	}
	wg.Wait()

	assert.Len(t, doc.Load(), 20)
}
