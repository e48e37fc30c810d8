// Package flashbuf implements the single shared 4 KiB flash sector staging
// buffer and its ownership arbiter (spec §4.1). Exactly one subsystem may
// hold the buffer at a time; the config cache is the only owner that may be
// silently evicted.
package flashbuf

import (
	"errors"
	"sync"
)

// SectorSize is the unit of flash erase and the unit of mailbox transfer.
const SectorSize = 4096

// Owner identifies which subsystem currently holds the sector buffer.
type Owner int

const (
	Free Owner = iota
	ConfigCache
	Ota
	DisplayPicture
	Rboot
)

func (o Owner) String() string {
	switch o {
	case Free:
		return "free"
	case ConfigCache:
		return "config-cache"
	case Ota:
		return "ota"
	case DisplayPicture:
		return "display-picture"
	case Rboot:
		return "rboot"
	default:
		return "unknown"
	}
}

// ErrBusy is returned by Request when the buffer cannot be granted.
var ErrBusy = errors.New("flashbuf: sector buffer in use")

// ErrOwnerMismatch is returned by Release when the caller does not hold the
// buffer it claims to release; this indicates a programming error.
var ErrOwnerMismatch = errors.New("flashbuf: release owner mismatch")

// Arbiter grants exclusive ownership of the single shared sector buffer.
// The arbiter is strictly cooperative: Request never blocks, it only
// succeeds or fails immediately.
type Arbiter struct {
	mu    sync.Mutex
	bytes [SectorSize]byte
	owner Owner
	tag   string
}

// New returns a freshly initialized arbiter, buffer owned by Free.
func New() *Arbiter {
	return &Arbiter{}
}

// Handle is a lease on the sector buffer, returned by Request.
type Handle struct {
	a     *Arbiter
	owner Owner
}

// Bytes returns the full 4096-byte staging area. Valid only while the
// Handle's lease is held (i.e. until Release).
func (h *Handle) Bytes() *[SectorSize]byte { return &h.a.bytes }

// Request attempts to grant ownership to newOwner. Granting succeeds iff
// the current owner is Free, or the current owner is ConfigCache and
// newOwner is one of {Ota, DisplayPicture, Rboot} — in which case the cache
// is silently invalidated (the caller is responsible for re-hydrating it on
// next config read). Any other non-Free current owner fails the request.
func (a *Arbiter) Request(newOwner Owner, tag string) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.owner == Free:
		// always grantable
	case a.owner == ConfigCache && (newOwner == Ota || newOwner == DisplayPicture || newOwner == Rboot):
		// cache evicted
	default:
		return nil, ErrBusy
	}
	a.owner = newOwner
	a.tag = tag
	return &Handle{a: a, owner: newOwner}, nil
}

// Release gives the buffer back to Free. currentOwner must match the
// arbiter's recorded owner; a mismatch is a defensive, programming-error
// check, not a recoverable condition.
func (a *Arbiter) Release(currentOwner Owner, tag string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != currentOwner {
		return ErrOwnerMismatch
	}
	a.owner = Free
	a.tag = ""
	return nil
}

// Owner reports the current owner (diagnostic use, e.g. flash-info/mailbox-info).
func (a *Arbiter) Owner() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Device is the platform boundary for raw flash access shared by the
// config store, the OTA/mailbox subsystem and the boot-config/RTC record.
// Implementations must treat addr as a byte offset from the start of flash
// and size all erase/read/write calls to whole sectors.
type Device interface {
	ReadSector(addr uint32, dst *[SectorSize]byte) error
	WriteSector(addr uint32, src *[SectorSize]byte) error
	EraseSector(addr uint32) error
}
