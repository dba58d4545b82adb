package exclusion

import (
	"encoding/binary"
	"net/netip"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// BlockSet is a set of prefixes keyed by their xxhash digest
type BlockSet struct {
	blocks map[uint64]netip.Prefix
}

// NewBlockSet creates a BlockSet holding blocks
func NewBlockSet(blocks ...netip.Prefix) *BlockSet {
	bs := &BlockSet{
		blocks: make(map[uint64]netip.Prefix, len(blocks)),
	}
	for _, b := range blocks {
		bs.Add(b)
	}
	return bs
}

// Add adds a prefix to the set, reporting whether it was new
func (bs *BlockSet) Add(block netip.Prefix) bool {
	if !block.IsValid() {
		return false
	}
	block = block.Masked()
	hash := hashPrefix(block)

	if _, exists := bs.blocks[hash]; exists {
		return false
	}

	bs.blocks[hash] = block
	return true
}

// Contains checks if the set contains exactly this prefix
func (bs *BlockSet) Contains(block netip.Prefix) bool {
	_, exists := bs.blocks[hashPrefix(block.Masked())]
	return exists
}

// Covers returns how many prefixes in the set contain addr
func (bs *BlockSet) Covers(addr netip.Addr) int {
	n := 0
	for _, b := range bs.blocks {
		if b.Contains(addr) {
			n++
		}
	}
	return n
}

// Size returns the number of prefixes in the set
func (bs *BlockSet) Size() int {
	return len(bs.blocks)
}

// Prefixes returns the prefixes ordered by address then length
func (bs *BlockSet) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(bs.blocks))
	for _, b := range bs.blocks {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b netip.Prefix) int {
		if c := a.Addr().Compare(b.Addr()); c != 0 {
			return c
		}
		return a.Bits() - b.Bits()
	})
	return out
}

// Fingerprint returns a digest that depends only on the set's members
func (bs *BlockSet) Fingerprint() uint64 {
	hashes := make([]uint64, 0, len(bs.blocks))
	for h := range bs.blocks {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)

	h := xxhash.New()
	var buf [8]byte
	for _, v := range hashes {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// hashPrefix hashes the address bytes and prefix length
func hashPrefix(p netip.Prefix) uint64 {
	h := xxhash.New()

	addr := p.Addr()
	if addr.Is4() {
		a := addr.As4()
		_, _ = h.Write(a[:])
	} else {
		a := addr.As16()
		_, _ = h.Write(a[:])
	}

	_, _ = h.Write([]byte{byte(p.Bits()), byte(addr.BitLen())})

	return h.Sum64()
}
