package strbuf

import "testing"

func TestAppendTruncates(t *testing.T) {
	cases := []struct {
		name      string
		capacity  int
		writes    []string
		wantBytes string
		wantTrunc bool
	}{
		{"fits", 8, []string{"hi"}, "hi", false},
		{"exact", 4, []string{"abcd"}, "abcd", false},
		{"overflow", 4, []string{"abcdef"}, "abcd", true},
		{"overflow-across-writes", 4, []string{"ab", "cdef"}, "abcd", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := New(c.capacity)
			for _, w := range c.writes {
				b.AppendString(w)
			}
			if string(b.Bytes()) != c.wantBytes {
				t.Fatalf("got %q want %q", b.Bytes(), c.wantBytes)
			}
			if b.Truncated() != c.wantTrunc {
				t.Fatalf("truncated=%v want %v", b.Truncated(), c.wantTrunc)
			}
		})
	}
}

func TestClear(t *testing.T) {
	b := New(4)
	b.AppendString("ab")
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len=%d want 0", b.Len())
	}
	if b.Cap() != 4 {
		t.Fatalf("cap=%d want 4", b.Cap())
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name   string
		format string
		args   []any
		want   string
	}{
		{"string", "hello %s\n", []any{"world"}, "hello world\n"},
		{"uint", "port: %u\n", []any{uint(115200)}, "port: 115200\n"},
		{"percent", "100%%\n", nil, "100%\n"},
		{"mixed", "sector %u erased: %u\n", []any{uint(12), true}, "sector 12 erased: 1\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := New(64)
			b.Format(c.format, c.args...)
			if string(b.Bytes()) != c.want {
				t.Fatalf("got %q want %q", b.Bytes(), c.want)
			}
		})
	}
}

func TestSplice(t *testing.T) {
	b := New(8)
	b.AppendString("aaaaaaaa")
	n := b.Splice(2, []byte("XY"))
	if n != 2 {
		t.Fatalf("n=%d want 2", n)
	}
	if string(b.Bytes()) != "aaXYaaaa" {
		t.Fatalf("got %q", b.Bytes())
	}
}

func TestIndexByte(t *testing.T) {
	b := New(16)
	b.AppendString("key=value")
	if i := b.IndexByte('='); i != 3 {
		t.Fatalf("index=%d want 3", i)
	}
	if i := b.IndexByte('?'); i != -1 {
		t.Fatalf("index=%d want -1", i)
	}
}

func TestTokenAndParse(t *testing.T) {
	src := []byte("cs wlan.client.ssid 0 0 example")
	tok, ok := Token(0, src, ' ')
	if !ok || string(tok) != "cs" {
		t.Fatalf("token0=%q ok=%v", tok, ok)
	}
	tok, ok = Token(1, src, ' ')
	if !ok || string(tok) != "wlan.client.ssid" {
		t.Fatalf("token1=%q ok=%v", tok, ok)
	}
	if v, ok := ParseUint(2, src, 10, ' '); !ok || v != 0 {
		t.Fatalf("parseuint=%d ok=%v", v, ok)
	}
	tok, ok = Token(4, src, ' ')
	if !ok || string(tok) != "example" {
		t.Fatalf("token4=%q ok=%v", tok, ok)
	}
	if _, ok := Token(5, src, ' '); ok {
		t.Fatalf("expected no token at index 5")
	}
}

func TestParseIntFloat(t *testing.T) {
	src := []byte("set threshold -12 3.5")
	if v, ok := ParseInt(2, src, 10, ' '); !ok || v != -12 {
		t.Fatalf("parseint=%d ok=%v", v, ok)
	}
	if v, ok := ParseFloat(3, src, ' '); !ok || v != 3.5 {
		t.Fatalf("parsefloat=%v ok=%v", v, ok)
	}
}

func TestMatchCstr(t *testing.T) {
	b := New(8)
	b.AppendString("help")
	if !b.MatchCstr("help") {
		t.Fatalf("expected match")
	}
	if b.MatchCstr("quit") {
		t.Fatalf("expected no match")
	}
}
