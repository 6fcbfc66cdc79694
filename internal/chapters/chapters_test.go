package chapters

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(titles ...string) []Ref {
	out := make([]Ref, len(titles))
	for i, t := range titles {
		out[i] = Ref{ID: fmt.Sprintf("id%d", i), Title: t, Ordinal: i}
	}
	return out
}

func titles(rs []Ref) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Title
	}
	return out
}

func TestExtractNumberArabic(t *testing.T) {
	for _, n := range []int{1, 9, 10, 99, 100, 1000} {
		got, ok := ExtractNumber(fmt.Sprintf("第%d章", n))
		require.True(t, ok)
		assert.Equal(t, n, got)
	}
}

func TestExtractNumberChinese(t *testing.T) {
	cases := map[string]int{
		"一": 1, "十": 10, "十一": 11, "二十": 20, "二十三": 23,
		"一百": 100, "一百零一": 101, "一千": 1000, "两千零五": 2005, "壹佰贰拾": 120,
	}
	for cn, want := range cases {
		got, ok := ExtractNumber("第" + cn + "章 标题")
		require.True(t, ok, cn)
		assert.Equal(t, want, got, cn)
	}
	assert.Equal(t, 100000, ParseChineseNumber("十万"))
}

func TestExtractNumberPatterns(t *testing.T) {
	tests := []struct {
		title string
		want  int
		ok    bool
	}{
		{"Chapter 12: Return", 12, true},
		{"ch.7", 7, true},
		{"12话 雨夜", 12, true},
		{"故事【5】", 5, true},
		{"第 3 章", 3, true},
		{"序章", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := ExtractNumber(tt.title)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractNumberFirstPatternWins(t *testing.T) {
	got, ok := ExtractNumber("第2章 Chapter 9")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		title  string
		class  Class
		weight int
	}{
		{"序章", Prologue, 0},
		{"楔子 风起", Prologue, 1},
		{"Prologue", Prologue, 0},
		{"番外：支线", Extra, 100},
		{"特典", Extra, 999},
		{"后记", Epilogue, 200},
		{"Finale", Epilogue, 201},
		{"第5章", Normal, 0},
		{"random words", Unknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			class, weight := Classify(tt.title)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.weight, weight)
		})
	}
}

func TestOrderScenario(t *testing.T) {
	seq := Order(refs("第1章 开始", "序章", "第3章 终", "番外：支线", "后记"))

	assert.Equal(t, []string{"序章", "第1章 开始", "第3章 终", "番外：支线", "后记"}, titles(seq.Refs()))
	assert.Contains(t, seq.Issues, "gap between chapter 1 and 3")
	assert.True(t, seq.Changed)
}

func TestOrderDuplicateAndGap(t *testing.T) {
	seq := Order(refs("第1章", "第2章 上", "第2章 下", "第4章"))

	assert.Equal(t, []string{"第1章", "第2章 上", "第2章 下", "第4章"}, titles(seq.Refs()))
	assert.Contains(t, seq.Issues, "duplicate chapter number 2 (2 chapters)")
	assert.Contains(t, seq.Issues, "gap between chapter 2 and 4")
	assert.False(t, seq.Changed)
}

func TestOrderStableTies(t *testing.T) {
	seq := Order(refs("番外 B", "特典 X", "番外 A", "支线 Y", "walk", "talk"))

	assert.Equal(t, []string{"番外 B", "番外 A", "特典 X", "支线 Y", "walk", "talk"}, titles(seq.Refs()))
}

func TestOrderTotal(t *testing.T) {
	empty := Order(nil)
	assert.Empty(t, empty.Chapters)
	assert.Empty(t, empty.Issues)
	assert.False(t, empty.Changed)

	unknown := Order(refs("c", "a", "b"))
	assert.Equal(t, []string{"c", "a", "b"}, titles(unknown.Refs()))
	assert.Empty(t, unknown.Issues)

	dupes := Order(refs("第1章", "第1章", "第1章"))
	assert.Len(t, dupes.Chapters, 3)
	assert.Equal(t, []string{"duplicate chapter number 1 (3 chapters)"}, dupes.Issues)
}

func TestNormalWithoutNumberSortsLast(t *testing.T) {
	a := SequencedChapter{Ref: Ref{Ordinal: 0}, Class: Normal}
	b := SequencedChapter{Ref: Ref{Ordinal: 1}, Class: Normal, Number: 5, HasNumber: true}
	assert.True(t, less(b, a))
	assert.Equal(t, missingNumber, a.secondary())
}

func TestFilter(t *testing.T) {
	all := refs("a", "b", "c", "d", "e")

	assert.Equal(t, []string{"b", "c", "d"}, titles(Filter(all, "2-4", "")))
	assert.Equal(t, []string{"d", "e"}, titles(Filter(all, "4-9", "")))
	assert.Empty(t, Filter(all, "4-2", ""))
	assert.Equal(t, []string{"a", "e"}, titles(Filter(all, "", "1, 5,5, 9,x")))
	assert.Len(t, Filter(all, "", ""), 5)
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "第1章 开始", DisplayTitle("第1章", "开始"))
	assert.Equal(t, "第1章 开始", DisplayTitle("第1章 开始", "开始"))
	assert.Equal(t, "第1章 开始", DisplayTitle("第1章", "第1章 开始"))
	assert.Equal(t, "第1章", DisplayTitle("第1章", ""))
}
