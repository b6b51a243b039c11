package prism

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable stands in for a TSLanguage. Nothing here dereferences it; the
// version probe is replaced in every Open.
var fakeTable = new([64]byte)

func fakeSource() Func {
	return Func(func() unsafe.Pointer { return unsafe.Pointer(fakeTable) })
}

func fixedABI(v uint32) Option {
	return WithVersionProbe(func(unsafe.Pointer) uint32 { return v })
}

// resetInstalled clears the process-wide provider for the duration of a test.
func resetInstalled(t *testing.T) {
	t.Helper()
	initMu.Lock()
	installed.Store(nil)
	initMu.Unlock()
	t.Cleanup(func() {
		initMu.Lock()
		installed.Store(nil)
		initMu.Unlock()
	})
}

type failingSource struct{ err error }

func (f failingSource) Open() (unsafe.Pointer, error) { return nil, f.err }
func (f failingSource) String() string                { return "failing" }

func TestHandle_ZeroValue(t *testing.T) {
	var h Handle
	assert.False(t, h.Valid())
	assert.Nil(t, h.Pointer())
	assert.Nil(t, h.Language())
}

func TestOpen_NilSource(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)
}

func TestOpen_NullTable(t *testing.T) {
	src := Func(func() unsafe.Pointer { return nil })
	_, err := Open(src, fixedABI(14))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNullTable)
}

func TestOpen_SourceError(t *testing.T) {
	_, err := Open(failingSource{err: ErrNotFound}, fixedABI(14))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "failing")
}

func TestOpen_IncompatibleABI(t *testing.T) {
	tests := []struct {
		name string
		abi  uint32
	}{
		{"too old", 5},
		{"too new", 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(fakeSource(), fixedABI(tt.abi), WithABIRange(13, 15))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIncompatibleABI)
		})
	}
}

func TestOpen_ABIBoundsInclusive(t *testing.T) {
	for _, abi := range []uint32{13, 14, 15} {
		p, err := Open(fakeSource(), fixedABI(abi), WithABIRange(13, 15))
		require.NoError(t, err, "abi %d", abi)
		assert.Equal(t, abi, p.ABIVersion())
	}
}

func TestOpen_Provider(t *testing.T) {
	p, err := Open(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)

	h := p.Language()
	assert.True(t, h.Valid())
	assert.Equal(t, unsafe.Pointer(fakeTable), h.Pointer())
	assert.Equal(t, "func", p.Source())
	require.NotNil(t, p.TSLanguage())
}

func TestProvider_LanguageIsStable(t *testing.T) {
	p, err := Open(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)

	first := p.Language()
	for i := 0; i < 10000; i++ {
		require.Equal(t, first, p.Language())
	}
}

func TestInit_InstallsOnce(t *testing.T) {
	resetInstalled(t)

	p1, err := Init(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)
	assert.True(t, Loaded())

	other := new([8]byte)
	p2, err := Init(Func(func() unsafe.Pointer { return unsafe.Pointer(other) }), fixedABI(14), WithABIRange(13, 15))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Same(t, p1, p2)
	assert.Equal(t, unsafe.Pointer(fakeTable), Language().Pointer())
}

func TestInit_FailureIsNotCached(t *testing.T) {
	resetInstalled(t)

	_, err := Init(failingSource{err: ErrNotFound})
	require.Error(t, err)
	assert.False(t, Loaded())

	_, err = Init(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)
	assert.True(t, Loaded())
}

func TestDefault_ReturnsInstalled(t *testing.T) {
	resetInstalled(t)

	want, err := Init(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)

	got, err := Default()
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestDefault_NotFound(t *testing.T) {
	resetInstalled(t)
	empty := t.TempDir()
	t.Setenv(EnvGrammarPath, empty)
	t.Setenv("HOME", empty)
	t.Chdir(empty)

	_, err := Default()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.False(t, Loaded())
}

func TestLanguage_PanicsWhenUnavailable(t *testing.T) {
	resetInstalled(t)
	empty := t.TempDir()
	t.Setenv(EnvGrammarPath, empty)
	t.Setenv("HOME", empty)
	t.Chdir(empty)

	assert.Panics(t, func() { Language() })
}

func TestLanguage_ConcurrentReadsAgree(t *testing.T) {
	resetInstalled(t)
	_, err := Init(fakeSource(), fixedABI(14), WithABIRange(13, 15))
	require.NoError(t, err)

	const goroutines = 64
	const calls = 2000
	want := Language()

	var wg sync.WaitGroup
	mismatches := make(chan Handle, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				if h := Language(); h != want {
					mismatches <- h
					return
				}
			}
		}()
	}
	wg.Wait()
	close(mismatches)
	assert.Empty(t, mismatches)
}

func TestInit_ConcurrentCallersShareOneProvider(t *testing.T) {
	resetInstalled(t)

	const goroutines = 32
	providers := make([]*Provider, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			p, err := Init(fakeSource(), fixedABI(14), WithABIRange(13, 15))
			if err != nil && !errors.Is(err, ErrAlreadyInitialized) {
				return
			}
			providers[g] = p
		}(g)
	}
	wg.Wait()

	for _, p := range providers {
		require.NotNil(t, p)
		assert.Same(t, providers[0], p)
	}
}
