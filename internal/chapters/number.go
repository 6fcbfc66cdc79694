package chapters

import (
	"regexp"
	"strconv"
)

var cnDigits = map[rune]int{
	'零': 0, '〇': 0,
	'一': 1, '壹': 1,
	'二': 2, '贰': 2, '两': 2,
	'三': 3, '叁': 3,
	'四': 4, '肆': 4,
	'五': 5, '伍': 5,
	'六': 6, '陆': 6,
	'七': 7, '柒': 7,
	'八': 8, '捌': 8,
	'九': 9, '玖': 9,
}

var cnUnits = map[rune]int{
	'十': 10, '拾': 10,
	'百': 100, '佰': 100,
	'千': 1000, '仟': 1000,
}

const cnNumeral = `零〇一壹二贰两三叁四肆五伍六陆七柒八捌九玖十拾百佰千仟万萬`

type numberPattern struct {
	re      *regexp.Regexp
	chinese bool
}

// Tried in order; the first pattern that matches decides.
var numberPatterns = []numberPattern{
	{re: regexp.MustCompile(`第\s*(\d+)\s*章`)},
	{re: regexp.MustCompile(`第\s*([` + cnNumeral + `]+)\s*章`), chinese: true},
	{re: regexp.MustCompile(`(?i)(?:chapter|ch\.?)\s*(\d+)`)},
	{re: regexp.MustCompile(`(\d+)\s*[章话集]`)},
	{re: regexp.MustCompile(`[（(【]\s*(\d+)\s*[）)】]`)},
}

// ExtractNumber finds the chapter number in a title.
func ExtractNumber(title string) (int, bool) {
	for _, p := range numberPatterns {
		m := p.re.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		if p.chinese {
			return ParseChineseNumber(m[1]), true
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ParseChineseNumber converts a Chinese numeral such as 二十三 or 一百零一.
// A unit without a leading digit counts as one of that unit (十一 is 11);
// 万 closes the current section into the total.
func ParseChineseNumber(s string) int {
	total, section, digit := 0, 0, 0

	for _, r := range s {
		if d, ok := cnDigits[r]; ok {
			digit = d
			continue
		}
		if u, ok := cnUnits[r]; ok {
			if digit == 0 {
				digit = 1
			}
			section += digit * u
			digit = 0
			continue
		}
		if r == '万' || r == '萬' {
			section += digit
			if section == 0 {
				section = 1
			}
			total += section * 10000
			section, digit = 0, 0
		}
	}

	return total + section + digit
}
