package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader("第2章 归来\n\n序章 开端\n第1章 出发\n"))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sequence"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	prologue := strings.Index(got, "序章 开端")
	first := strings.Index(got, "第1章 出发")
	second := strings.Index(got, "第2章 归来")
	require.True(t, prologue >= 0 && first >= 0 && second >= 0, got)
	assert.Less(t, prologue, first)
	assert.Less(t, first, second)
	assert.Contains(t, got, "prologue")
	assert.Contains(t, got, "note: chapter order differs from the source listing")
}

func TestReadTitlesSkipsBlankLines(t *testing.T) {
	refs, err := readTitles(strings.NewReader("  a \n\n b\n"))
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "a", refs[0].Title)
	assert.Equal(t, 1, refs[1].Ordinal)
	assert.Equal(t, "2", refs[1].ID)
}
