// Package reloc implements the two-pass relocation engine (spec
// component C6): resolving each relocation's symbol value, applying the
// per-architecture write formula to the merged output image, and
// recording PC-relative 32-bit overflows for the GOT/PLT synthesiser to
// fix up in pass 2.
package reloc

import "github.com/coldironforge/linker/internal/layout"

// x86-64 relocation types this engine understands (AMD64 psABI numbering).
const (
	RX86_64_64             = 1
	RX86_64_PC32           = 2
	RX86_64_GOT32          = 3
	RX86_64_PLT32          = 4
	RX86_64_GLOB_DAT       = 6
	RX86_64_JUMP_SLOT      = 7
	RX86_64_RELATIVE       = 8
	RX86_64_GOTPCREL       = 9
	RX86_64_32             = 10
	RX86_64_32S            = 11
	RX86_64_16             = 12
	RX86_64_PC16           = 13
	RX86_64_8              = 14
	RX86_64_PC8            = 15
	RX86_64_DTPMOD64       = 16
	RX86_64_DTPOFF64       = 17
	RX86_64_TPOFF64        = 18
	RX86_64_TLSGD          = 19
	RX86_64_TLSLD          = 20
	RX86_64_DTPOFF32       = 21
	RX86_64_GOTTPOFF       = 22
	RX86_64_TPOFF32        = 23
	RX86_64_SIZE32         = 32
	RX86_64_SIZE64         = 33
	RX86_64_GOTPCRELX      = 41
	RX86_64_REX_GOTPCRELX  = 42
)

func isX8664TLS(t uint32) bool {
	switch t {
	case RX86_64_DTPMOD64, RX86_64_DTPOFF64, RX86_64_TPOFF64, RX86_64_TLSGD, RX86_64_TLSLD, RX86_64_DTPOFF32, RX86_64_GOTTPOFF, RX86_64_TPOFF32:
		return true
	}
	return false
}

// AArch64 relocation types (ELF for the ARM 64-bit architecture).
const (
	RAARCH64_ABS64              = 257
	RAARCH64_ABS32              = 258
	RAARCH64_ABS16              = 259
	RAARCH64_PREL64             = 260
	RAARCH64_PREL32             = 261
	RAARCH64_PREL16             = 262
	RAARCH64_ADR_PREL_LO21      = 274
	RAARCH64_ADR_PREL_PG_HI21   = 275
	RAARCH64_ADD_ABS_LO12_NC    = 277
	RAARCH64_LDST8_ABS_LO12_NC  = 278
	RAARCH64_LDST16_ABS_LO12_NC = 284
	RAARCH64_LDST32_ABS_LO12_NC = 285
	RAARCH64_LDST64_ABS_LO12_NC = 286
	RAARCH64_LDST128_ABS_LO12_NC = 299
	RAARCH64_CONDBR19           = 280
	RAARCH64_JUMP26             = 282
	RAARCH64_CALL26             = 283
	RAARCH64_GLOB_DAT           = 1025
	RAARCH64_JUMP_SLOT          = 1026
	RAARCH64_RELATIVE           = 1027
)

// OverflowSite is a PC-relative relocation pass 1 could not satisfy
// within a 32-bit displacement (spec §4.6's candidate identity:
// containing merged section, offset, relocation type, symbol name).
type OverflowSite struct {
	Section    *layout.MergedSection
	Offset     uint64 // byte offset within Section.Data
	SiteAddr   uint64 // Section.VMA + Offset, the relocation site's own address
	RelType    uint32
	SymbolName string
	Addend     int64
}

// Result summarises one Apply pass.
type Result struct {
	Overflows []OverflowSite
	Applied   int
	Skipped   int
}
