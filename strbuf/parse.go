package strbuf

import "strconv"

// Token returns the i-th delim-separated run in src (0-indexed), or false
// if there are fewer than i+1 tokens. Mirrors original_source's
// parse_string positional semantics.
func Token(i int, src []byte, delim byte) ([]byte, bool) {
	start := -1
	idx := 0
	for pos := 0; pos <= len(src); pos++ {
		atEnd := pos == len(src)
		isDelim := !atEnd && src[pos] == delim
		if start < 0 && !atEnd && !isDelim {
			start = pos
		}
		if start >= 0 && (isDelim || atEnd) {
			if idx == i {
				return src[start:pos], true
			}
			idx++
			start = -1
		}
	}
	return nil, false
}

// ParseString extracts the i-th token and appends it to dst, returning ok.
func ParseString(i int, src []byte, dst *Buf, delim byte) bool {
	tok, ok := Token(i, src, delim)
	if !ok {
		return false
	}
	dst.Append(tok)
	return true
}

// ParseStringValue extracts the i-th token as a plain string, for callers
// that just need the value rather than an appended Buf (command handlers
// pulling a key/hostname/pattern argument out of a request line).
func ParseStringValue(i int, src []byte, delim byte) (string, bool) {
	tok, ok := Token(i, src, delim)
	if !ok {
		return "", false
	}
	return string(tok), true
}

// ParseUint parses the i-th token as an unsigned integer in the given base
// (0 means auto-detect radix prefixes, matching strconv.ParseUint base 0).
func ParseUint(i int, src []byte, base int, delim byte) (uint64, bool) {
	tok, ok := Token(i, src, delim)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(string(tok), base, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseInt parses the i-th token as a signed integer.
func ParseInt(i int, src []byte, base int, delim byte) (int64, bool) {
	tok, ok := Token(i, src, delim)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(string(tok), base, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseFloat parses the i-th token as a float64.
func ParseFloat(i int, src []byte, delim byte) (float64, bool) {
	tok, ok := Token(i, src, delim)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(tok), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MatchCstr reports whether the valid bytes of b equal s exactly.
func (b *Buf) MatchCstr(s string) bool {
	return string(b.Bytes()) == s
}
