// ABOUTME: Address segments of a memory image
// ABOUTME: Sorted segment list with binary-search lookup by address

package memimage

import (
	"fmt"
	"sort"
)

// Segment is a contiguous run of dumped memory starting at Addr
type Segment struct {
	Addr Address
	Data []byte
}

func (s Segment) String() string {
	return fmt.Sprintf("segment{addr:%v, size:0x%x}", s.Addr, s.size())
}

func (s Segment) size() uint64 { return uint64(len(s.Data)) }

func (s Segment) end() uint64 { return uint64(s.Addr) + s.size() }

func (s Segment) contains(addr Address) bool {
	return s.Addr <= addr && uint64(addr) < s.end()
}

// containsRange reports whether [addr, addr+n) is inside s. A zero length
// range is contained if addr is.
func (s Segment) containsRange(addr Address, n uint64) bool {
	if !s.contains(addr) {
		return false
	}
	off := uint64(addr - s.Addr)
	return n <= s.size()-off
}

type segments []Segment

func (ss segments) Len() int           { return len(ss) }
func (ss segments) Swap(i, k int)      { ss[i], ss[k] = ss[k], ss[i] }
func (ss segments) Less(i, k int) bool { return ss[i].Addr < ss[k].Addr }

// find returns the segment containing addr
func (ss segments) find(addr Address) (Segment, bool) {
	k := sort.Search(len(ss), func(k int) bool {
		return addr < ss[k].Addr
	})
	k--
	if k >= 0 && ss[k].contains(addr) {
		return ss[k], true
	}
	return Segment{}, false
}
