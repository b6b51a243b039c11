package bbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/tsprism/internal/ports"
)

// newTestStore creates a temporary bbolt store for testing.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

// makeTestOutline returns a small model outline.
func makeTestOutline(path string) (*ports.FileMeta, []*ports.SymbolMeta) {
	return &ports.FileMeta{Path: path, LastModified: 1700000000, Kind: "model"},
		[]*ports.SymbolMeta{
			{Name: "dtmc", Signature: "dtmc", Kind: "model", StartLine: 1, EndLine: 1},
			{Name: "N", Signature: "const int N = 3", Kind: "const", StartLine: 3, EndLine: 3},
			{Name: "coin", Signature: "module coin", Kind: "module", StartLine: 5, EndLine: 9},
			{Name: "s", Signature: "s : [0..N] init 0", Kind: "variable", StartLine: 6, EndLine: 6, Parent: "coin"},
			{Name: "flip", Signature: "[flip]", Kind: "action", StartLine: 7, EndLine: 7, Parent: "coin"},
		}
}

func TestStore_SaveLoadFile_Roundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("models/coin.pm")

	require.NoError(t, store.SaveFile("proj-1", fm, syms))

	gotFile, gotSyms, err := store.LoadFile("proj-1", "models/coin.pm")
	require.NoError(t, err)
	require.NotNil(t, gotFile)
	assert.Equal(t, fm.Path, gotFile.Path)
	assert.Equal(t, fm.LastModified, gotFile.LastModified)
	assert.Equal(t, "model", gotFile.Kind)
	assert.Equal(t, len(syms), gotFile.SymbolCount, "SymbolCount is derived from the outline")
	assert.Equal(t, syms, gotSyms)

	// Caller's FileMeta is not mutated.
	assert.Zero(t, fm.SymbolCount)
}

func TestStore_LoadFile_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	fm, syms, err := store.LoadFile("proj-1", "nope.pm")
	require.NoError(t, err)
	assert.Nil(t, fm)
	assert.Nil(t, syms)
}

func TestStore_SaveFile_Invalid(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Error(t, store.SaveFile("proj-1", nil, nil))
	assert.Error(t, store.SaveFile("proj-1", &ports.FileMeta{}, nil))
}

func TestStore_SaveFile_EmptyOutline(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveFile("proj-1", &ports.FileMeta{Path: "empty.props", Kind: "properties"}, nil))

	fm, syms, err := store.LoadFile("proj-1", "empty.props")
	require.NoError(t, err)
	require.NotNil(t, fm)
	assert.Zero(t, fm.SymbolCount)
	assert.Empty(t, syms)
}

func TestStore_SaveFile_ReplacesOutline(t *testing.T) {
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-1", fm, syms))

	// Module renamed: the old name must disappear from the name index.
	renamed := []*ports.SymbolMeta{
		{Name: "die", Signature: "module die", Kind: "module", StartLine: 5, EndLine: 9},
	}
	require.NoError(t, store.SaveFile("proj-1", fm, renamed))

	hits, err := store.Find("proj-1", "coin")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.Find("proj-1", "die")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "coin.pm", hits[0].Path)
}

func TestStore_Find_Exact(t *testing.T) {
	store, _ := newTestStore(t)
	fmA, symsA := makeTestOutline("b/coin.pm")
	fmB, symsB := makeTestOutline("a/coin2.pm")
	require.NoError(t, store.SaveFile("proj-1", fmA, symsA))
	require.NoError(t, store.SaveFile("proj-1", fmB, symsB))

	hits, err := store.Find("proj-1", "N")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a/coin2.pm", hits[0].Path, "ordered by path")
	assert.Equal(t, "b/coin.pm", hits[1].Path)
	assert.Equal(t, "const", hits[0].Symbol.Kind)

	hits, err = store.Find("proj-1", "n")
	require.NoError(t, err)
	assert.Empty(t, hits, "names are case-sensitive")

	hits, err = store.Find("proj-1", "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_Find_Prefix(t *testing.T) {
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	syms = append(syms, &ports.SymbolMeta{Name: "coin_done", Kind: "label", StartLine: 11, EndLine: 11})
	require.NoError(t, store.SaveFile("proj-1", fm, syms))

	hits, err := store.Find("proj-1", "coin*")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "coin", hits[0].Symbol.Name, "ordered by line")
	assert.Equal(t, "coin_done", hits[1].Symbol.Name)

	all, err := store.Find("proj-1", "*")
	require.NoError(t, err)
	assert.Len(t, all, len(syms))
}

func TestStore_Find_DuplicateNamesInOneFile(t *testing.T) {
	// Two modules may declare the same action.
	store, _ := newTestStore(t)
	syms := []*ports.SymbolMeta{
		{Name: "tick", Kind: "action", StartLine: 4, Parent: "a"},
		{Name: "tick", Kind: "action", StartLine: 9, Parent: "b"},
	}
	require.NoError(t, store.SaveFile("proj-1", &ports.FileMeta{Path: "sync.nm"}, syms))

	hits, err := store.Find("proj-1", "tick")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Symbol.Parent)
	assert.Equal(t, "b", hits[1].Symbol.Parent)
}

func TestStore_DeleteFile(t *testing.T) {
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-1", fm, syms))
	fm2, syms2 := makeTestOutline("other.pm")
	require.NoError(t, store.SaveFile("proj-1", fm2, syms2))

	require.NoError(t, store.DeleteFile("proj-1", "coin.pm"))

	got, _, err := store.LoadFile("proj-1", "coin.pm")
	require.NoError(t, err)
	assert.Nil(t, got)

	hits, err := store.Find("proj-1", "coin")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "other.pm", hits[0].Path)

	// Missing file and missing project are not errors.
	assert.NoError(t, store.DeleteFile("proj-1", "coin.pm"))
	assert.NoError(t, store.DeleteFile("proj-9", "coin.pm"))
}

func TestStore_Files_SortedByPath(t *testing.T) {
	store, _ := newTestStore(t)
	for _, p := range []string{"z.props", "a.pm", "m/b.nm"} {
		fm, syms := makeTestOutline(p)
		require.NoError(t, store.SaveFile("proj-1", fm, syms))
	}

	files, err := store.Files("proj-1")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.pm", files[0].Path)
	assert.Equal(t, "m/b.nm", files[1].Path)
	assert.Equal(t, "z.props", files[2].Path)

	none, err := store.Files("proj-empty")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_CrashRecovery(t *testing.T) {
	// Data from the last committed transaction survives close and reopen.
	dir := t.TempDir()
	path := filepath.Join(dir, "crash.db")

	store, err := NewStore(path)
	require.NoError(t, err)

	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-1", fm, syms))
	require.NoError(t, store.Close())

	store2, err := NewStore(path)
	require.NoError(t, err)
	defer store2.Close()

	loaded, loadedSyms, err := store2.LoadFile("proj-1", "coin.pm")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loadedSyms, len(syms))

	hits, err := store2.Find("proj-1", "flip")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStore_ProjectScoped(t *testing.T) {
	// Two projects in the same bbolt file use separate buckets.
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-A", fm, syms))
	require.NoError(t, store.SaveFile("proj-B", &ports.FileMeta{Path: "dice.pm"},
		[]*ports.SymbolMeta{{Name: "die", Kind: "module", StartLine: 1}}))

	hits, err := store.Find("proj-A", "die")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.Find("proj-B", "die")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	filesA, err := store.Files("proj-A")
	require.NoError(t, err)
	require.Len(t, filesA, 1)
	assert.Equal(t, "coin.pm", filesA[0].Path)
}

func TestStore_DeleteProject(t *testing.T) {
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-A", fm, syms))
	require.NoError(t, store.SaveFile("proj-B", fm, syms))

	require.NoError(t, store.DeleteProject("proj-A"))

	got, _, err := store.LoadFile("proj-A", "coin.pm")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, _, err = store.LoadFile("proj-B", "coin.pm")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Delete nonexistent: idempotent
	assert.NoError(t, store.DeleteProject("proj-C"))
}

func TestStore_ConcurrentReads(t *testing.T) {
	// bbolt supports concurrent readers, single writer.
	store, _ := newTestStore(t)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store.SaveFile("proj-1", fm, syms))

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := store.Find("proj-1", "coin")
			if err != nil {
				errs <- err
				return
			}
			if len(hits) != 1 {
				errs <- fmt.Errorf("expected 1 hit, got %d", len(hits))
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent read error: %v", err)
	}
}

func TestStore_ConcurrentWriters(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("m%02d.pm", i)
			err := store.SaveFile("proj-1", &ports.FileMeta{Path: path},
				[]*ports.SymbolMeta{{Name: "shared", Kind: "const", StartLine: 1}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	hits, err := store.Find("proj-1", "shared")
	require.NoError(t, err)
	assert.Len(t, hits, 20, "no name entry lost to a concurrent write")
}

func TestStore_LargeProject_Performance(t *testing.T) {
	store, _ := newTestStore(t)

	start := time.Now()
	for i := 0; i < 200; i++ {
		fm := &ports.FileMeta{Path: fmt.Sprintf("models/m_%03d.pm", i), Kind: "model"}
		syms := make([]*ports.SymbolMeta, 0, 25)
		for j := 0; j < 25; j++ {
			syms = append(syms, &ports.SymbolMeta{
				Name:      fmt.Sprintf("c_%d", j),
				Signature: fmt.Sprintf("const int c_%d = %d", j, j),
				Kind:      "const",
				StartLine: uint32(j + 1),
				EndLine:   uint32(j + 1),
			})
		}
		require.NoError(t, store.SaveFile("proj-1", fm, syms))
	}
	saveTime := time.Since(start)

	start = time.Now()
	hits, err := store.Find("proj-1", "c_1*")
	findTime := time.Since(start)
	require.NoError(t, err)
	assert.Len(t, hits, 200*11) // c_1, c_10..c_19

	t.Logf("Performance: save=%v find=%v hits=%d", saveTime, findTime, len(hits))
}

func TestStore_StateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restart.db")

	store1, err := NewStore(path)
	require.NoError(t, err)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store1.SaveFile("proj-1", fm, syms))
	require.NoError(t, store1.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	store2, err := NewStore(path)
	require.NoError(t, err)
	defer store2.Close()

	files, err := store2.Files("proj-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, len(syms), files[0].SymbolCount)
}

func TestPathsEncoding(t *testing.T) {
	in := map[string]struct{}{"a.pm": {}, "dir/b.props": {}, "": {}}
	data, err := encodePaths(in)
	require.NoError(t, err)

	out, err := decodePaths(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// Deterministic output.
	again, err := encodePaths(in)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestPathsEncoding_Corrupt(t *testing.T) {
	_, err := decodePaths([]byte{1, 0})
	assert.Error(t, err)

	data, err := encodePaths(map[string]struct{}{"model.pm": {}})
	require.NoError(t, err)
	_, err = decodePaths(data[:len(data)-2])
	assert.Error(t, err)
	_, err = decodePaths(data[:5])
	assert.Error(t, err)
}

// =============================================================================
// Lock contention tests: verify the 1s timeout prevents hangs
// =============================================================================

func TestStore_OpenTimeout_DoesNotHang(t *testing.T) {
	// When another process holds the bbolt exclusive lock, a second open
	// should time out in ~1 second, not hang forever.
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.db")

	store1, err := NewStore(path)
	require.NoError(t, err)
	defer store1.Close()

	start := time.Now()
	store2, err := NewStore(path)
	elapsed := time.Since(start)

	require.Error(t, err, "second open should fail with lock timeout")
	assert.Nil(t, store2, "store should be nil on timeout")
	assert.Contains(t, err.Error(), "timeout", "error should mention timeout")
	assert.Contains(t, err.Error(), "bbolt open")
	assert.Less(t, elapsed, 3*time.Second, "should complete within 3s, not hang")
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "should wait ~1s for the configured timeout")
}

func TestStore_OpenAfterClose_Succeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "released.db")

	store1, err := NewStore(path)
	require.NoError(t, err)
	fm, syms := makeTestOutline("coin.pm")
	require.NoError(t, store1.SaveFile("test", fm, syms))
	store1.Close()

	start := time.Now()
	store2, err := NewStore(path)
	elapsed := time.Since(start)

	require.NoError(t, err, "open after close should succeed")
	require.NotNil(t, store2)
	assert.Less(t, elapsed, 500*time.Millisecond, "should open instantly after lock released")
	defer store2.Close()

	got, _, err := store2.LoadFile("test", "coin.pm")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
