// Package workload implements the bounded memory-access walk the entropy
// collector runs before each timestamp (spec.md §4.2). Its purpose is to
// generate cache misses and microarchitectural traffic between
// consecutive timer reads; the contents of mem never feed entropy
// directly, only the measured duration of the walk does.
package workload

// DefaultAccessLoops is memaccessloops, the number of read-modify-write
// operations performed per inner round (spec.md §4.2).
const DefaultAccessLoops = 128

// Mode selects the step pattern used to walk the memory buffer.
type Mode int

const (
	// ModeRandom derives each next index from the sponge's current fold,
	// masked to the buffer size (spec.md §4.2's "random-memaccess mode
	// (preferred)").
	ModeRandom Mode = iota
	// ModeBlock visits memblocks*memblocksize bytes sequentially in a
	// strided pattern, wrapping at the buffer end (spec.md §4.2's "block
	// mode").
	ModeBlock
)

// Workload is the memory-access buffer and its walk state.
type Workload struct {
	mem  []byte
	mode Mode

	// random-memaccess geometry
	memmask uint64

	// block-mode geometry
	memblocks     int
	memblocksize  int
	memlocation   int

	loops int
}

// FoldFunc returns the next random-memaccess index source: the entropy
// collector's sponge folded to the buffer's address width. Supplied by the
// caller so this package has no dependency on the conditioner.
type FoldFunc func(bits uint) uint64

// New constructs a random-memaccess workload over a power-of-two buffer of
// the given size. size must already be a power of two; callers (the
// entropy collector's config) are responsible for rounding.
func New(size int, loops int) *Workload {
	if loops <= 0 {
		loops = DefaultAccessLoops
	}
	return &Workload{
		mem:     make([]byte, size),
		mode:    ModeRandom,
		memmask: uint64(size - 1),
		loops:   loops,
	}
}

// NewBlock constructs a block-mode workload visiting blocks*blockSize
// bytes per pass over a buffer sized blocks*blockSize.
func NewBlock(blocks, blockSize, loops int) *Workload {
	if loops <= 0 {
		loops = DefaultAccessLoops
	}
	return &Workload{
		mem:          make([]byte, blocks*blockSize),
		mode:         ModeBlock,
		memblocks:    blocks,
		memblocksize: blockSize,
		loops:        loops,
	}
}

// bitsFor returns the number of bits needed to index size distinct
// addresses (log2(size)).
func bitsFor(size int) uint {
	var bits uint
	for n := size; n > 1; n >>= 1 {
		bits++
	}
	return bits
}

// Run executes one inner round of the workload: DefaultAccessLoops (or the
// configured loops) read-modify-write visits. fold supplies the next index
// for random-memaccess mode; it is ignored in block mode. counter is a
// workload-local counter mixed into the written value so the walk cannot
// be optimized away as dead stores.
func (w *Workload) Run(fold FoldFunc, counter uint64) {
	if w == nil || len(w.mem) == 0 {
		return
	}
	bits := bitsFor(len(w.mem))
	for i := 0; i < w.loops; i++ {
		var idx int
		switch w.mode {
		case ModeRandom:
			idx = int(fold(bits) & w.memmask)
		case ModeBlock:
			idx = w.memlocation
			w.memlocation = (w.memlocation + 1) % len(w.mem)
		}
		w.mem[idx] ^= byte(counter + uint64(i))
	}
}

// Size returns the buffer size in bytes (0 when memory access is
// disabled, spec.md §4.2's "disable-memory-access flag").
func (w *Workload) Size() int {
	if w == nil {
		return 0
	}
	return len(w.mem)
}
