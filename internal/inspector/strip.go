package inspector

import (
	"encoding/binary"

	"github.com/coldironforge/linker/internal/linkerr"
)

// StripPolicy selects which sections Strip drops (spec §4.9).
type StripPolicy int

const (
	// StripAll drops every SHT_SYMTAB/SHT_STRTAB section except the
	// section-header string table itself.
	StripAll StripPolicy = iota
	// StripDebug drops only .debug* and .stab* sections.
	StripDebug
)

const (
	ehdrSize = 64
	shdrSize = 64

	shtNull   = 0
	shtSymtab = 2
	shtStrtab = 3
)

type rawSection struct {
	name, shType           uint32
	flags, addr, offset    uint64
	size                   uint64
	link, info             uint32
	addralign, entsize     uint64
	data                   []byte
}

// Strip parses a raw ELF64 relocatable/executable image directly (it
// must work on arbitrary section-header-carrying input, not just this
// linker's own no-section-header output) and rewrites it with sections
// matching policy removed, renumbering sh_link/sh_info across the gap
// and recomputing e_shoff/e_shstrndx (spec §4.9).
func Strip(data []byte, policy StripPolicy) ([]byte, error) {
	if len(data) < ehdrSize || data[0] != 0x7f || data[1] != 'E' {
		return nil, linkerr.New(linkerr.InvalidInput, "bad ELF magic")
	}
	bo := binary.LittleEndian
	eShoff := bo.Uint64(data[40:48])
	eShentsize := bo.Uint16(data[58:60])
	eShnum := bo.Uint16(data[60:62])
	eShstrndx := bo.Uint16(data[62:64])
	if eShnum == 0 {
		return nil, linkerr.New(linkerr.InvalidInput, "input carries no section headers to strip")
	}
	if eShentsize != 0 && eShentsize != shdrSize {
		return nil, linkerr.New(linkerr.InvalidInput, "unexpected section header entry size")
	}

	secs := make([]rawSection, eShnum)
	for i := 0; i < int(eShnum); i++ {
		base := eShoff + uint64(i)*shdrSize
		if base+shdrSize > uint64(len(data)) {
			return nil, linkerr.New(linkerr.InvalidInput, "section header table out of bounds")
		}
		b := data[base : base+shdrSize]
		s := rawSection{
			name: bo.Uint32(b[0:4]), shType: bo.Uint32(b[4:8]), flags: bo.Uint64(b[8:16]),
			addr: bo.Uint64(b[16:24]), offset: bo.Uint64(b[24:32]), size: bo.Uint64(b[32:40]),
			link: bo.Uint32(b[40:44]), info: bo.Uint32(b[44:48]),
			addralign: bo.Uint64(b[48:56]), entsize: bo.Uint64(b[56:64]),
		}
		if s.shType != shtNull && s.shType != 8 { // 8 == SHT_NOBITS, carries no file bytes
			if s.offset+s.size > uint64(len(data)) {
				return nil, linkerr.New(linkerr.InvalidInput, "section data out of bounds")
			}
			s.data = data[s.offset : s.offset+s.size]
		}
		secs[i] = s
	}
	if eShstrndx >= eShnum {
		return nil, linkerr.New(linkerr.InvalidInput, "e_shstrndx out of range")
	}
	shstrtab := secs[eShstrndx].data
	name := func(off uint32) string { return cstrLocal(shstrtab, off) }

	keep := make([]bool, eShnum)
	for i, s := range secs {
		if uint16(i) == eShstrndx {
			keep[i] = true
			continue
		}
		n := name(s.name)
		switch policy {
		case StripAll:
			keep[i] = s.shType != shtSymtab && s.shType != shtStrtab
		case StripDebug:
			keep[i] = !hasPrefix(n, ".debug") && !hasPrefix(n, ".stab")
		default:
			keep[i] = true
		}
	}

	// oldToNew maps an original section index to its index in the
	// output, or -1 if dropped (sh_link/sh_info renumbering, spec §4.9).
	oldToNew := make([]int, eShnum)
	newIdx := 0
	var kept []rawSection
	for i, s := range secs {
		if keep[i] {
			oldToNew[i] = newIdx
			kept = append(kept, s)
			newIdx++
		} else {
			oldToNew[i] = -1
		}
	}

	remap := func(i uint32) uint32 {
		if int(i) >= len(oldToNew) || oldToNew[i] < 0 {
			return 0
		}
		return uint32(oldToNew[i])
	}
	for i := range kept {
		kept[i].link = remap(kept[i].link)
		if kept[i].shType == 4 { // SHT_RELA: sh_info is the target section index
			kept[i].info = remap(kept[i].info)
		}
	}

	out := make([]byte, ehdrSize)
	copy(out, data[:ehdrSize])

	var shdrs []byte
	for _, s := range kept {
		offset := uint64(0)
		if s.shType != shtNull && s.shType != 8 {
			if pad := alignPad(len(out), s.addralign); pad > 0 {
				out = append(out, make([]byte, pad)...)
			}
			offset = uint64(len(out))
			out = append(out, s.data...)
		}
		shdrs = append(shdrs, encodeShdr(s, offset)...)
	}

	if pad := alignPad(len(out), 8); pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	newShoff := uint64(len(out))
	out = append(out, shdrs...)

	bo.PutUint64(out[40:48], newShoff)
	bo.PutUint16(out[60:62], uint16(len(kept)))
	bo.PutUint16(out[62:64], uint16(oldToNew[eShstrndx]))

	return out, nil
}

func encodeShdr(s rawSection, offset uint64) []byte {
	b := make([]byte, shdrSize)
	bo := binary.LittleEndian
	bo.PutUint32(b[0:4], s.name)
	bo.PutUint32(b[4:8], s.shType)
	bo.PutUint64(b[8:16], s.flags)
	bo.PutUint64(b[16:24], s.addr)
	bo.PutUint64(b[24:32], offset)
	bo.PutUint64(b[32:40], s.size)
	bo.PutUint32(b[40:44], s.link)
	bo.PutUint32(b[44:48], s.info)
	bo.PutUint64(b[48:56], s.addralign)
	bo.PutUint64(b[56:64], s.entsize)
	return b
}

func alignPad(curLen int, align uint64) int {
	if align <= 1 {
		return 0
	}
	rem := uint64(curLen) % align
	if rem == 0 {
		return 0
	}
	return int(align - rem)
}

func cstrLocal(tab []byte, off uint32) string {
	if int(off) >= len(tab) {
		return ""
	}
	end := int(off)
	for end < len(tab) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
