package hnsw

// BitSet tracks visited nodes during a layer search. It is reused across
// searches through a pool, so Clear must be called before handing it back.
type BitSet struct {
	buckets []uint64
}

func NewBitSet(initialCapacity uint32) *BitSet {
	return &BitSet{buckets: make([]uint64, (initialCapacity>>6)+1)}
}

// EnsureCapacity grows the set so n can be stored without reallocating mid-search.
func (bs *BitSet) EnsureCapacity(n uint32) {
	needed := (n >> 6) + 1
	if uint32(len(bs.buckets)) < needed {
		grown := make([]uint64, needed)
		copy(grown, bs.buckets)
		bs.buckets = grown
	}
}

func (bs *BitSet) Add(n uint32) {
	bs.EnsureCapacity(n)
	bs.buckets[n>>6] |= 1 << (n & 63)
}

func (bs *BitSet) Has(n uint32) bool {
	i := n >> 6
	if i >= uint32(len(bs.buckets)) {
		return false
	}
	return bs.buckets[i]&(1<<(n&63)) != 0
}

func (bs *BitSet) Clear() {
	clear(bs.buckets)
}
