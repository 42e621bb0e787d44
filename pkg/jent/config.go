package jent

// Flags is the construction-time options bitset (spec.md §6). It is
// accepted by both Alloc and Init.
type Flags uint32

const (
	// flagReservedHistoric0 and flagReservedHistoric1 correspond to the
	// historic disable-stir/disable-unbias bits (spec.md §9 "Open
	// questions"). They are unused but must never be reassigned, to keep
	// the bit layout stable for anyone round-tripping a Flags value.
	flagReservedHistoric0 Flags = 1 << iota
	flagReservedHistoric1
	// FlagDisableMemoryAccess disables the memory workload entirely
	// (spec.md §4.2, §6 bit 2).
	FlagDisableMemoryAccess
	// FlagForceInternalTimer forces selection of the software timer even
	// if the hardware timer passes its self-test (spec.md §4.1, §6 bit 3).
	FlagForceInternalTimer
	// FlagDisableInternalTimer forbids falling back to the software timer;
	// Init fails with selftest.ErrNoTime if the hardware timer is too
	// coarse (spec.md §4.1, §6 bit 4).
	FlagDisableInternalTimer
	// FlagFIPSMode forces FIPS-compliant health-test thresholds (spec.md
	// §6 bit 5): the RCT permanent cutoff is 31 consecutive stuck samples;
	// without this flag it is half that (15), also permanent.
	FlagFIPSMode
)

// maxMemShift is where the 4-bit max-memory-size field starts within
// Flags (spec.md §6 bits 28-31).
const maxMemShift = 28

// MaxMemSize decodes the flags' bits 28-31 into a byte count: 0 means "use
// the default," k means 2^(k+14) bytes, capped at 512 MiB (spec.md §6).
func (f Flags) MaxMemSize() int {
	k := uint32(f) >> maxMemShift
	if k == 0 {
		return DefaultMemSize
	}
	size := 1 << (k + 14)
	const cap = 512 * 1024 * 1024
	if size > cap {
		size = cap
	}
	return size
}

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// DefaultMemSize is the memory workload buffer size used when Flags'
// max-memory-size field is 0 (spec.md §6): 2^(0+14) = 16 KiB, the same
// "k=0 means default" baseline the bit-field formula produces for k=0,
// made explicit here since a 0 shift count must not collapse to a 1-byte
// buffer.
const DefaultMemSize = 1 << 14

// Config is the decoded, validated form of an EC's construction
// parameters (spec.md §3's osr/flags/fips_enabled/enable_notime/
// max_mem_set fields), mirroring the teacher's consumption.Config: one
// named, documented field per knob, with a defaultConfig constructor.
type Config struct {
	// OSR is the oversampling rate: >= 1, or >= 3 when the loop-shuffle
	// optimization (not implemented here — spec.md never requires it) is
	// disabled. 0 means "use the default" (spec.md §4.7's alloc(osr=0)).
	OSR int

	DisableMemoryAccess  bool
	ForceInternalTimer   bool
	DisableInternalTimer bool
	FIPSEnabled          bool

	// MemSize is the memory workload buffer size in bytes, rounded up to
	// a power of two by newWorkload.
	MemSize int
}

// defaultOSR is the oversampling rate used when Config.OSR == 0
// (spec.md §4.7).
const defaultOSR = 3

// defaultConfig returns a Config with every field at its spec-mandated or
// documented default, mirroring the teacher's _defaultConfig().
func defaultConfig() Config {
	return Config{
		OSR:     defaultOSR,
		MemSize: DefaultMemSize,
	}
}

// configFromFlags decodes a Flags bitset plus an explicit osr override
// (0 meaning "use default") into a validated Config.
func configFromFlags(osr int, flags Flags) Config {
	cfg := defaultConfig()
	if osr > 0 {
		cfg.OSR = osr
	}
	cfg.DisableMemoryAccess = flags.has(FlagDisableMemoryAccess)
	cfg.ForceInternalTimer = flags.has(FlagForceInternalTimer)
	cfg.DisableInternalTimer = flags.has(FlagDisableInternalTimer)
	cfg.FIPSEnabled = flags.has(FlagFIPSMode)
	cfg.MemSize = flags.MaxMemSize()
	if cfg.DisableMemoryAccess {
		cfg.MemSize = 0
	}
	return cfg
}

// validate enforces spec.md §3's invariants on osr.
func (c Config) validate() error {
	if c.OSR < 1 {
		return ErrProgrammingError
	}
	return nil
}
