package reloc

import (
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
)

// applyX8664 implements the x86-64 relocation formulas of spec §4.6.
// overflowed reports a PC32/PLT32 site that must be queued to the
// OverflowList rather than written. A RelocationOverflow error on any
// other width (32/32S/16/PC16/8/PC8) is not queueable and not fatal
// either: the caller treats it as a warn-and-skip.
func applyX8664(buf []byte, T uint64, relType uint32, S uint64, A int64, P uint64) (overflowed bool, err error) {
	switch relType {
	case RX86_64_64, RX86_64_GLOB_DAT, RX86_64_JUMP_SLOT:
		val := S
		if relType == RX86_64_64 {
			val = uint64(int64(S) + A)
		}
		return false, writeAt(buf, T, 8, val)

	case RX86_64_RELATIVE:
		return false, writeAt(buf, T, 8, uint64(int64(layout.BaseAddress)+A))

	case RX86_64_PC32, RX86_64_PLT32, RX86_64_GOTPCREL, RX86_64_GOTPCRELX, RX86_64_REX_GOTPCRELX:
		disp := int64(S) + A - int64(P)
		if !fitsI32(disp) {
			return true, nil // queued for pass 2
		}
		return false, writeAt(buf, T, 4, uint64(uint32(disp)))

	case RX86_64_32:
		v := uint64(int64(S) + A)
		if !fitsU32(v) && !fitsI32(int64(S)+A) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_32 value does not fit 32 bits").WithNum(int64(v))
		}
		return false, writeAt(buf, T, 4, v&0xffffffff)

	case RX86_64_32S:
		v := int64(S) + A
		if !fitsI32(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_32S value does not fit signed 32 bits").WithNum(v)
		}
		return false, writeAt(buf, T, 4, uint64(uint32(int32(v))))

	case RX86_64_16:
		v := uint64(int64(S) + A)
		if !fitsU16(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_16 value does not fit 16 bits").WithNum(int64(v))
		}
		return false, writeAt(buf, T, 2, v&0xffff)

	case RX86_64_PC16:
		disp := int64(S) + A - int64(P)
		if !fitsI16(disp) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_PC16 displacement does not fit 16 bits").WithNum(disp)
		}
		return false, writeAt(buf, T, 2, uint64(uint16(disp)))

	case RX86_64_8:
		v := uint64(int64(S) + A)
		if !fitsU8(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_8 value does not fit 8 bits").WithNum(int64(v))
		}
		return false, writeAt(buf, T, 1, v&0xff)

	case RX86_64_PC8:
		disp := int64(S) + A - int64(P)
		if !fitsI8(disp) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_X86_64_PC8 displacement does not fit 8 bits").WithNum(disp)
		}
		return false, writeAt(buf, T, 1, uint64(uint8(disp)))

	case RX86_64_SIZE32:
		return false, writeAt(buf, T, 4, uint64(uint32(int64(S)+A)))

	case RX86_64_SIZE64:
		return false, writeAt(buf, T, 8, uint64(int64(S)+A))
	}

	return false, linkerr.New(linkerr.UnsupportedReloc, "unknown x86-64 relocation type %d", relType)
}
