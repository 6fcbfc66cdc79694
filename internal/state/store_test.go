package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brogergvhs/noveld/internal/ui"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestPendingIsExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := Open(path, "book", nil)

	all := []string{"1", "2", "3", "4"}
	assert.Equal(t, all, s.Pending(all))

	require.NoError(t, s.MarkDone("2", "4"))
	assert.Equal(t, []string{"1", "3"}, s.Pending(all))

	require.NoError(t, s.MarkDone("1", "3"))
	assert.Empty(t, s.Pending(all))
	assert.Equal(t, all, s.Completed())
}

func TestKeyedFormatKeepsOtherBooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"other":["x"],"book":["1"]}`), 0644))

	s := Open(path, "book", nil)
	assert.True(t, s.IsDone("1"))
	assert.False(t, s.IsDone("x"))

	require.NoError(t, s.MarkDone("2"))

	var got map[string][]string
	readJSON(t, path, &got)
	assert.Equal(t, map[string][]string{"other": {"x"}, "book": {"1", "2"}}, got)

	require.NoError(t, s.Clear())
	readJSON(t, path, &got)
	assert.Equal(t, map[string][]string{"other": {"x"}, "book": {}}, got)
}

func TestFlatFormatStaysFlat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`["b","a"]`), 0644))

	s := Open(path, "whatever", nil)
	assert.Equal(t, []string{"a", "b"}, s.Completed())

	require.NoError(t, s.MarkDone("c"))

	var got []string
	readJSON(t, path, &got)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestNewFileIsKeyed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultFile)
	s := Open(path, "42", nil)
	require.NoError(t, s.MarkDone("7"))

	var got map[string][]string
	readJSON(t, path, &got)
	assert.Equal(t, []string{"7"}, got["42"])
}

func TestCorruptFileIsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"book": [1,`), 0644))

	var buf bytes.Buffer
	s := Open(path, "book", &ui.Logger{Out: &buf})
	assert.Equal(t, 0, s.Len())
	assert.Contains(t, buf.String(), "[WARN]")

	require.NoError(t, s.MarkDone("1"))
	reopened := Open(path, "book", nil)
	assert.True(t, reopened.IsDone("1"))
}

func TestMarkDoneNoopDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := Open(path, "book", nil)
	require.NoError(t, s.MarkDone())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestConcurrentMarkDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := Open(path, "book", nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.MarkDone(fmt.Sprintf("c%02d", i)))
		}()
	}
	wg.Wait()

	reopened := Open(path, "book", nil)
	assert.Equal(t, 20, reopened.Len())
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("out", DefaultFile), PathFor("out", ""))
	assert.Equal(t, filepath.Join("out", "s.json"), PathFor("out", "s.json"))
}
