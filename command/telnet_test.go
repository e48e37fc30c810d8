package command

import "testing"

func TestStripRemovesIACTriplets(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no-telnet", []byte("hello"), []byte("hello")},
		{"single-triplet", []byte{'a', 0xFF, 0xFB, 0x01, 'b'}, []byte{'a', 'b'}},
		{"leading-triplet", []byte{0xFF, 0xFD, 0x03, 'x'}, []byte{'x'}},
		{"back-to-back-triplets", []byte{0xFF, 0xFB, 0x01, 0xFF, 0xFD, 0x03, 'z'}, []byte{'z'}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Strip(c.in)
			if string(got) != string(c.want) {
				t.Fatalf("got %v want %v", got, c.want)
			}
		})
	}
}

func TestStripAcrossMultipleFeeds(t *testing.T) {
	var s TelnetStripper
	var out []byte
	out = s.Feed(out, []byte{'a', 0xFF})
	out = s.Feed(out, []byte{0xFB})
	out = s.Feed(out, []byte{0x01, 'b'})
	if string(out) != "ab" {
		t.Fatalf("got %q want ab", out)
	}
}

func TestResetReturnsToCopy(t *testing.T) {
	var s TelnetStripper
	s.Feed(nil, []byte{0xFF})
	if s.state != TelnetDoDont {
		t.Fatalf("expected mid-triplet state")
	}
	s.Reset()
	if s.state != TelnetCopy {
		t.Fatalf("expected Copy after reset")
	}
}
