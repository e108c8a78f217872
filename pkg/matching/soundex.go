package matching

import "strings"

// soundexCodes maps ASCII letters to their Soundex digit, 0 meaning the
// letter is skipped (vowels, h, w, y).
var soundexCodes = map[byte]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// Soundex returns the 4-character American Soundex code of s, or "" when s
// contains no leading ASCII letter. Non-letter characters are ignored.
func Soundex(s string) string {
	s = strings.ToLower(s)

	// Find the first letter; it is kept verbatim.
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	code := make([]byte, 0, 4)
	code = append(code, s[start]-'a'+'A')

	prev := soundexCodes[s[start]]
	for i := start + 1; i < len(s) && len(code) < 4; i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			continue
		}
		// h and w do not break a run of the same code; vowels do.
		if c == 'h' || c == 'w' {
			continue
		}
		d := soundexCodes[c]
		if d == 0 {
			prev = 0
			continue
		}
		if d != prev {
			code = append(code, d)
		}
		prev = d
	}

	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}
