// Package config implements the flash-resident copy-on-write key/value
// store (spec §4.2) backed by the shared sector buffer arbiter, plus a
// build-time seed/default layer (seed.go) consulted when no record exists.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"openenterprise/iobridge/flashbuf"
)

// ErrWriteInProgress is returned by OpenWrite when a transaction is already
// open; the store is not re-entrant.
var ErrWriteInProgress = errors.New("config: write transaction already open")

// ErrNoWriteInProgress is returned by Set/Delete/CloseWrite/AbortWrite when
// called outside an open transaction.
var ErrNoWriteInProgress = errors.New("config: no write transaction open")

type record struct {
	key, value string
}

// Store is the in-RAM cache plus flash-backed persistence for the config
// sector. Reads are lock-free relative to writers in the sense required by
// spec.md: Get always serves the last committed snapshot, never a
// half-written transaction.
type Store struct {
	mu       sync.RWMutex
	dev      flashbuf.Device
	arbiter  *flashbuf.Arbiter
	addr     uint32
	cache    []record
	writing  bool
	pending  []record
	defaults map[string]string
}

// Open loads the store's cache from the given flash sector. It does not
// fail if the sector is blank (all 0xFF) — that is simply an empty store.
func Open(dev flashbuf.Device, arbiter *flashbuf.Arbiter, addr uint32) (*Store, error) {
	s := &Store{dev: dev, arbiter: arbiter, addr: addr, defaults: seedDefaults()}
	var sector [flashbuf.SectorSize]byte
	if err := dev.ReadSector(addr, &sector); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	s.cache = parseRecords(sector[:])
	return s, nil
}

// parseRecords splits a sector image into NUL-terminated "key=value"
// records, stopping at the first 0xFF (unwritten flash) or a record with no
// '=' (malformed, treated as end of valid data).
func parseRecords(sector []byte) []record {
	var recs []record
	start := 0
	for i := 0; i <= len(sector); i++ {
		if i == len(sector) || sector[i] == 0x00 {
			if i == start {
				if i < len(sector) && sector[i] == 0x00 {
					start = i + 1
					continue
				}
				break
			}
			line := sector[start:i]
			if len(line) == 0 || line[0] == 0xFF {
				break
			}
			eq := indexByte(line, '=')
			if eq < 0 {
				break
			}
			recs = append(recs, record{key: string(line[:eq]), value: string(line[eq+1:])})
			start = i + 1
			continue
		}
	}
	return recs
}

func indexByte(p []byte, c byte) int {
	for i, b := range p {
		if b == c {
			return i
		}
	}
	return -1
}

// ExpandKey substitutes up to two %u/%d template slots in tmpl with i1 and
// i2, in order of appearance. Pass -1 for an index that should not be
// substituted (the template has no corresponding slot for it).
func ExpandKey(tmpl string, i1, i2 int) string {
	out := tmpl
	idx := []int{i1, i2}
	slot := 0
	for slot < len(idx) && idx[slot] >= 0 {
		replaced := false
		for _, marker := range []string{"%u", "%d"} {
			if p := strings.Index(out, marker); p >= 0 {
				out = out[:p] + strconv.Itoa(idx[slot]) + out[p+len(marker):]
				replaced = true
				break
			}
		}
		if !replaced {
			break
		}
		slot++
	}
	return out
}

// Get returns the committed value for key, falling back to the build-time
// seed default, then to not-found.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.cache {
		if r.key == key {
			return r.value, true
		}
	}
	if v, ok := s.defaults[key]; ok {
		return v, true
	}
	return "", false
}

// GetUint parses Get(key) as an unsigned integer.
func (s *Store) GetUint(key string) (uint64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetInt parses Get(key) as a signed integer.
func (s *Store) GetInt(key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// OpenWrite begins a transaction: the pending set starts as a copy of the
// committed cache. Not re-entrant.
func (s *Store) OpenWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writing {
		return ErrWriteInProgress
	}
	s.writing = true
	s.pending = append([]record(nil), s.cache...)
	return nil
}

// Set stages key=value for the open transaction. An empty value is
// equivalent to Delete(key, false, -1, -1) — spec.md's documented boundary
// condition.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return ErrNoWriteInProgress
	}
	if value == "" {
		s.pending = deleteExact(s.pending, key)
		return nil
	}
	for i := range s.pending {
		if s.pending[i].key == key {
			s.pending[i].value = value
			return nil
		}
	}
	s.pending = append(s.pending, record{key: key, value: value})
	return nil
}

// SetTemplate expands tmpl with i1/i2 and sets it, mirroring
// config_set_string_flashptr/config_set_int's indexed-key convenience.
func (s *Store) SetTemplate(tmpl string, i1, i2 int, value string) error {
	return s.Set(ExpandKey(tmpl, i1, i2), value)
}

// Delete removes records from the open transaction. When wildcard is
// false, exactly one record whose key equals the expanded pattern is
// removed. When wildcard is true, every record whose key has the expanded
// pattern as a prefix is removed. Returns the number of records removed.
func (s *Store) Delete(pattern string, wildcard bool, i1, i2 int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return 0, ErrNoWriteInProgress
	}
	key := ExpandKey(pattern, i1, i2)
	before := len(s.pending)
	if wildcard {
		var kept []record
		for _, r := range s.pending {
			if !strings.HasPrefix(r.key, key) {
				kept = append(kept, r)
			}
		}
		s.pending = kept
	} else {
		s.pending = deleteExact(s.pending, key)
	}
	return before - len(s.pending), nil
}

func deleteExact(recs []record, key string) []record {
	for i, r := range recs {
		if r.key == key {
			return append(recs[:i], recs[i+1:]...)
		}
	}
	return recs
}

// CloseWrite commits the transaction: it takes the sector buffer with
// owner ConfigCache, serializes all pending records, erases the flash
// sector, writes the serialized buffer, and releases ownership. On any
// failure the transaction is aborted. A failure before the erase (buffer
// busy, sector overflow) leaves the prior on-flash contents intact; an
// erase or write error can leave the sector erased or partly written.
func (s *Store) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writing {
		return ErrNoWriteInProgress
	}

	handle, err := s.arbiter.Request(flashbuf.ConfigCache, "config-close-write")
	if err != nil {
		s.writing = false
		s.pending = nil
		return fmt.Errorf("config: %w", err)
	}
	defer s.arbiter.Release(flashbuf.ConfigCache, "config-close-write")
	// From here on every return ends the transaction, committed or not.
	defer func() {
		s.pending = nil
		s.writing = false
	}()

	buf := handle.Bytes()
	for i := range buf {
		buf[i] = 0xFF
	}
	pos := 0
	for _, r := range s.pending {
		line := r.key + "=" + r.value
		if pos+len(line)+1 > len(buf) {
			return fmt.Errorf("config: sector overflow at %d records", len(s.pending))
		}
		copy(buf[pos:], line)
		pos += len(line)
		buf[pos] = 0x00
		pos++
	}

	if err := s.dev.EraseSector(s.addr); err != nil {
		return fmt.Errorf("config: erase: %w", err)
	}
	if err := s.dev.WriteSector(s.addr, buf); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}

	s.cache = s.pending
	s.pending = nil
	s.writing = false
	return nil
}

// AbortWrite discards the pending transaction. The committed cache (and
// on-flash contents) are untouched.
func (s *Store) AbortWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.writing = false
}

// Dump returns a snapshot of all committed records, for the config-dump
// command.
func (s *Store) Dump() []struct{ Key, Value string } {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]struct{ Key, Value string }, len(s.cache))
	for i, r := range s.cache {
		out[i] = struct{ Key, Value string }{r.key, r.value}
	}
	return out
}
