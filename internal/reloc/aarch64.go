package reloc

import (
	"encoding/binary"

	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
)

// ReadInsn reads the 32-bit little-endian instruction word at T. Exported
// so pltgot can re-encode a branch instruction in relocation pass 2.
func ReadInsn(buf []byte, T uint64) (uint32, error) {
	if T+4 > uint64(len(buf)) {
		return 0, linkerr.New(linkerr.InvalidInput, "relocation write out of bounds at offset %#x", T)
	}
	return binary.LittleEndian.Uint32(buf[T : T+4]), nil
}

// WriteInsn writes insn back as a 32-bit little-endian instruction word.
func WriteInsn(buf []byte, T uint64, insn uint32) error {
	if T+4 > uint64(len(buf)) {
		return linkerr.New(linkerr.InvalidInput, "relocation write out of bounds at offset %#x", T)
	}
	binary.LittleEndian.PutUint32(buf[T:T+4], insn)
	return nil
}

// SetField overwrites bits [hi:lo] (inclusive) of insn with the low
// (hi-lo+1) bits of val.
func SetField(insn uint32, lo, hi uint, val uint32) uint32 {
	width := hi - lo + 1
	mask := uint32((1 << width) - 1)
	insn &^= mask << lo
	insn |= (val & mask) << lo
	return insn
}

func inRange(v int64, bits uint) bool {
	lo := -(int64(1) << (bits - 1))
	hi := int64(1) << (bits - 1)
	return v >= lo && v < hi
}

// applyAArch64 implements the AArch64 relocation formulas of spec §4.6.
func applyAArch64(buf []byte, T uint64, relType uint32, S uint64, A int64, P uint64) (overflowed bool, err error) {
	switch relType {
	case RAARCH64_ABS64, RAARCH64_GLOB_DAT, RAARCH64_JUMP_SLOT:
		return false, writeAt(buf, T, 8, uint64(int64(S)+A))

	case RAARCH64_RELATIVE:
		return false, writeAt(buf, T, 8, uint64(int64(layout.BaseAddress)+A))

	case RAARCH64_ABS32:
		v := int64(S) + A
		if !fitsU32(uint64(v)) && !fitsI32(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_ABS32 does not fit 32 bits").WithNum(v)
		}
		return false, writeAt(buf, T, 4, uint64(uint32(v)))

	case RAARCH64_ABS16:
		v := int64(S) + A
		if !fitsU16(uint64(v)) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_ABS16 does not fit 16 bits").WithNum(v)
		}
		return false, writeAt(buf, T, 2, uint64(uint16(v)))

	case RAARCH64_PREL64:
		return false, writeAt(buf, T, 8, uint64(int64(S)+A-int64(P)))

	case RAARCH64_PREL32:
		v := int64(S) + A - int64(P)
		if !fitsI32(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_PREL32 does not fit signed 32 bits").WithNum(v)
		}
		return false, writeAt(buf, T, 4, uint64(uint32(int32(v))))

	case RAARCH64_PREL16:
		v := int64(S) + A - int64(P)
		if !fitsI16(v) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_PREL16 does not fit signed 16 bits").WithNum(v)
		}
		return false, writeAt(buf, T, 2, uint64(uint16(int16(v))))

	case RAARCH64_CALL26, RAARCH64_JUMP26:
		disp := int64(S) + A - int64(P)
		if disp%4 != 0 {
			return false, linkerr.New(linkerr.InvalidInput, "unaligned branch target for CALL26/JUMP26")
		}
		imm := disp >> 2
		if !inRange(imm, 26) {
			return true, nil // queued for pass 2, same as x86-64 PC32 overflow
		}
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = SetField(insn, 0, 25, uint32(imm))
		return false, WriteInsn(buf, T, insn)

	case RAARCH64_CONDBR19:
		disp := int64(S) + A - int64(P)
		if disp%4 != 0 {
			return false, linkerr.New(linkerr.InvalidInput, "unaligned branch target for CONDBR19")
		}
		imm := disp >> 2
		if !inRange(imm, 19) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_CONDBR19 out of range").WithNum(imm)
		}
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = SetField(insn, 5, 23, uint32(imm))
		return false, WriteInsn(buf, T, insn)

	case RAARCH64_ADR_PREL_LO21:
		disp := int64(S) + A - int64(P)
		if !inRange(disp, 21) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_ADR_PREL_LO21 out of range").WithNum(disp)
		}
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = encodeAdrImm(insn, uint32(disp))
		return false, WriteInsn(buf, T, insn)

	case RAARCH64_ADR_PREL_PG_HI21:
		page := func(x uint64) uint64 { return x &^ 0xfff }
		delta := int64(page(uint64(int64(S)+A))) - int64(page(P))
		pageDelta := delta >> 12
		if !inRange(pageDelta, 21) {
			return false, linkerr.New(linkerr.RelocationOverflow, "R_AARCH64_ADR_PREL_PG_HI21 out of range").WithNum(pageDelta)
		}
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = encodeAdrImm(insn, uint32(pageDelta))
		return false, WriteInsn(buf, T, insn)

	case RAARCH64_ADD_ABS_LO12_NC:
		low12 := uint32((uint64(int64(S) + A)) & 0xfff)
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = SetField(insn, 10, 21, low12)
		return false, WriteInsn(buf, T, insn)

	case RAARCH64_LDST8_ABS_LO12_NC, RAARCH64_LDST16_ABS_LO12_NC, RAARCH64_LDST32_ABS_LO12_NC, RAARCH64_LDST64_ABS_LO12_NC, RAARCH64_LDST128_ABS_LO12_NC:
		shift := ldstShift(relType)
		low12 := (uint64(int64(S) + A)) & 0xfff
		insn, err := ReadInsn(buf, T)
		if err != nil {
			return false, err
		}
		insn = SetField(insn, 10, 21, uint32(low12>>shift))
		return false, WriteInsn(buf, T, insn)
	}

	return false, linkerr.New(linkerr.UnsupportedReloc, "unknown AArch64 relocation type %d", relType)
}

// encodeAdrImm packs a 21-bit signed immediate into an ADR/ADRP
// instruction's immlo (bits 30:29) and immhi (bits 23:5) fields.
func encodeAdrImm(insn uint32, imm uint32) uint32 {
	insn = SetField(insn, 29, 30, imm&0x3)
	insn = SetField(insn, 5, 23, (imm>>2)&0x7ffff)
	return insn
}

func ldstShift(relType uint32) uint {
	switch relType {
	case RAARCH64_LDST8_ABS_LO12_NC:
		return 0
	case RAARCH64_LDST16_ABS_LO12_NC:
		return 1
	case RAARCH64_LDST32_ABS_LO12_NC:
		return 2
	case RAARCH64_LDST64_ABS_LO12_NC:
		return 3
	case RAARCH64_LDST128_ABS_LO12_NC:
		return 4
	}
	return 0
}
