package chapters

import (
	"fmt"
	"sort"
	"strings"
)

type Class int

// Values double as sort priority.
const (
	Prologue Class = iota
	Normal
	Extra
	Epilogue
	Unknown
)

func (c Class) String() string {
	switch c {
	case Prologue:
		return "prologue"
	case Normal:
		return "normal"
	case Extra:
		return "extra"
	case Epilogue:
		return "epilogue"
	default:
		return "unknown"
	}
}

const (
	defaultWeight = 999
	missingNumber = 999999
)

var classKeywords = []struct {
	class    Class
	keywords []string
}{
	{Prologue, []string{"序章", "楔子", "前言", "开篇", "引子", "序言", "开场", "起始", "prologue", "preface", "introduction", "opening"}},
	{Extra, []string{"番外", "特别篇", "外传", "if线", "特典", "支线", "分支", "特别章", "extra", "special", "side story", "bonus", "omake", "gaiden"}},
	{Epilogue, []string{"后记", "终章", "尾声", "结语", "完结", "结尾", "终结", "大结局", "epilogue", "finale", "ending", "conclusion", "final"}},
}

var keywordWeights = map[string]int{
	"序章": 0, "楔子": 1, "前言": 2, "开篇": 3, "引子": 4,
	"prologue": 0, "preface": 2, "introduction": 3,
	"番外": 100, "特别篇": 101, "外传": 102, "if线": 103,
	"extra": 100, "special": 101, "side story": 102,
	"后记": 200, "终章": 201, "尾声": 202, "结语": 203, "完结": 204,
	"epilogue": 200, "finale": 201, "ending": 202,
}

// Classify matches the title against the special-chapter keyword sets.
// Keywords without a listed weight get 999 and tie on ordinal.
func Classify(title string) (Class, int) {
	lower := strings.ToLower(title)
	for _, set := range classKeywords {
		for _, kw := range set.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			if w, ok := keywordWeights[kw]; ok {
				return set.class, w
			}
			return set.class, defaultWeight
		}
	}

	if _, ok := ExtractNumber(title); ok {
		return Normal, 0
	}
	return Unknown, 0
}

type SequencedChapter struct {
	Ref       Ref
	Number    int
	HasNumber bool
	Class     Class
	Weight    int
}

func (s SequencedChapter) secondary() int {
	if s.Class == Normal {
		if !s.HasNumber {
			return missingNumber
		}
		return s.Number
	}
	return s.Weight
}

func less(a, b SequencedChapter) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	if sa, sb := a.secondary(), b.secondary(); sa != sb {
		return sa < sb
	}
	return a.Ref.Ordinal < b.Ref.Ordinal
}

type Sequence struct {
	Chapters []SequencedChapter
	Issues   []string
	Changed  bool
}

func (s Sequence) Refs() []Ref {
	out := make([]Ref, len(s.Chapters))
	for i, c := range s.Chapters {
		out[i] = c.Ref
	}
	return out
}

// Order sorts chapters as prologues, numbered chapters, extras, epilogues,
// then anything unrecognized, and reports numbering problems. It never
// fails; the output is always a permutation of refs.
func Order(refs []Ref) Sequence {
	seq := make([]SequencedChapter, len(refs))
	for i, r := range refs {
		class, weight := Classify(r.Title)
		n, ok := ExtractNumber(r.Title)
		seq[i] = SequencedChapter{Ref: r, Number: n, HasNumber: ok, Class: class, Weight: weight}
	}

	sort.SliceStable(seq, func(i, j int) bool { return less(seq[i], seq[j]) })

	out := Sequence{Chapters: seq}
	for i := range seq {
		if seq[i].Ref.Ordinal != refs[i].Ordinal || seq[i].Ref.ID != refs[i].ID {
			out.Changed = true
			break
		}
	}

	out.Issues = detectIssues(seq)
	if out.Changed {
		out.Issues = append(out.Issues, "chapter order differs from the source listing")
	}
	return out
}

func detectIssues(seq []SequencedChapter) []string {
	var issues []string

	counts := map[int]int{}
	var numbers []int
	for _, c := range seq {
		if c.Class != Normal || !c.HasNumber {
			continue
		}
		if counts[c.Number] == 0 {
			numbers = append(numbers, c.Number)
		}
		counts[c.Number]++
	}

	for _, n := range numbers {
		if counts[n] > 1 {
			issues = append(issues, fmt.Sprintf("duplicate chapter number %d (%d chapters)", n, counts[n]))
		}
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i]-numbers[i-1] > 1 {
			issues = append(issues, fmt.Sprintf("gap between chapter %d and %d", numbers[i-1], numbers[i]))
		}
	}

	return issues
}
