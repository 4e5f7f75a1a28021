// Package elfobj implements the ELF64 relocatable object reader (spec
// component C1): it parses an ET_REL file from disk or from an in-memory
// slice into a normalised ObjectFile with disjoint, owned copies of every
// sub-array, bounds-checking every offset/length pair before it is
// dereferenced.
package elfobj

import (
	"encoding/binary"
	"os"

	"github.com/coldironforge/linker/internal/linkerr"
)

// Machine identifies the target architecture of an object file.
type Machine uint16

const (
	EM_X86_64   Machine = 62
	EM_AARCH64  Machine = 183
)

func (m Machine) String() string {
	switch m {
	case EM_X86_64:
		return "x86-64"
	case EM_AARCH64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// ELF file type (e_type).
const (
	ET_NONE uint16 = 0
	ET_REL  uint16 = 1
	ET_EXEC uint16 = 2
	ET_DYN  uint16 = 3
)

// Section types (sh_type).
const (
	SHT_NULL     uint32 = 0
	SHT_PROGBITS uint32 = 1
	SHT_SYMTAB   uint32 = 2
	SHT_STRTAB   uint32 = 3
	SHT_RELA     uint32 = 4
	SHT_NOBITS   uint32 = 8
	SHT_NOTE     uint32 = 7
)

// Section flags (sh_flags).
const (
	SHF_WRITE     uint64 = 0x1
	SHF_ALLOC     uint64 = 0x2
	SHF_EXECINSTR uint64 = 0x4
)

// Special section-index values used by st_shndx.
const (
	SHN_UNDEF  uint16 = 0
	SHN_ABS    uint16 = 0xfff1
	SHN_COMMON uint16 = 0xfff2
)

// Symbol binding (top 4 bits of st_info).
const (
	STB_LOCAL  uint8 = 0
	STB_GLOBAL uint8 = 1
	STB_WEAK   uint8 = 2
)

// Symbol type (bottom 4 bits of st_info).
const (
	STT_NOTYPE  uint8 = 0
	STT_OBJECT  uint8 = 1
	STT_FUNC    uint8 = 2
	STT_SECTION uint8 = 3
	STT_FILE    uint8 = 4
	STT_COMMON  uint8 = 5
)

const (
	ehdrSize = 64
	shdrSize = 64
	symSize  = 24
	relaSize = 24
)

// Section is one contributing section from one object (spec §3).
type Section struct {
	Name      string
	Type      uint32
	Flags     uint64
	Data      []byte // empty for NOBITS
	Size      uint64 // declared size; authoritative for NOBITS
	Align     uint64
	OrigIndex int // original in-object section index
}

// Symbol is one symbol record (spec §3). Value's meaning is staged: an
// offset within the owning section (or 0 for UNDEF) until address
// assignment, then a final virtual address.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Section int // index into the owning ObjectFile.Sections, or one of UNDEF/ABS/COMMON below
	Bind    uint8
	Type    uint8
}

// Pseudo section indices carried on Symbol.Section (mirrors SHN_*).
const (
	SecUndef  = -1
	SecAbs    = -2
	SecCommon = -3
)

// Relocation is one RELA entry (spec §3).
type Relocation struct {
	Offset uint64
	Type   uint32
	Symbol int // index into the owning ObjectFile.Symbols
	Addend int64
}

// RelaSection groups the relocations that target one Section, by its
// OrigIndex.
type RelaSection struct {
	TargetSection int
	Relocations   []Relocation
}

// ObjectFile is one normalised relocatable input (spec §3).
type ObjectFile struct {
	Path    string
	Machine Machine

	Sections []Section
	Symbols  []Symbol
	Relas    []RelaSection
}

// Read parses the ELF64 relocatable at path.
func Read(path string) (*ObjectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, linkerr.Wrap(linkerr.IOError, err, "read object").WithFile(path)
	}
	return ReadBytes(data, path)
}

// ReadBytes parses the ELF64 relocatable in data. path is diagnostic
// only (e.g. "archive-member:name"); data is never aliased by the
// returned ObjectFile — every sub-array is an owned copy, so data may be
// released independently (the contract a memory-mapped archive member
// relies on).
func ReadBytes(data []byte, path string) (*ObjectFile, error) {
	if len(data) < ehdrSize {
		return nil, linkerr.New(linkerr.InvalidInput, "file too small for ELF header").WithFile(path)
	}
	if !(data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F') {
		return nil, linkerr.New(linkerr.InvalidInput, "bad ELF magic").WithFile(path)
	}
	if data[4] != 2 { // ELFCLASS64
		return nil, linkerr.New(linkerr.UnsupportedFeature, "not ELF64").WithFile(path)
	}
	if data[5] != 1 { // ELFDATA2LSB
		return nil, linkerr.New(linkerr.UnsupportedFeature, "not little-endian").WithFile(path)
	}

	bo := binary.LittleEndian
	eType := bo.Uint16(data[16:18])
	eMachine := Machine(bo.Uint16(data[18:20]))
	if eType != ET_REL {
		return nil, linkerr.New(linkerr.UnsupportedFeature, "not ET_REL").WithFile(path)
	}
	if eMachine != EM_X86_64 && eMachine != EM_AARCH64 {
		return nil, linkerr.New(linkerr.UnsupportedFeature, "unsupported machine %d", eMachine).WithFile(path)
	}

	eShoff := bo.Uint64(data[40:48])
	eShentsize := bo.Uint16(data[58:60])
	eShnum := bo.Uint16(data[60:62])
	eShstrndx := bo.Uint16(data[62:64])

	if eShentsize != 0 && eShentsize != shdrSize {
		return nil, linkerr.New(linkerr.InvalidInput, "unexpected section header entry size %d", eShentsize).WithFile(path)
	}

	shTableEnd, ok := addOK(eShoff, uint64(eShnum)*shdrSize)
	if !ok || shTableEnd > uint64(len(data)) {
		return nil, linkerr.New(linkerr.InvalidInput, "section header table out of bounds").WithFile(path)
	}

	type rawShdr struct {
		name      uint32
		shType    uint32
		flags     uint64
		addr      uint64
		offset    uint64
		size      uint64
		link      uint32
		info      uint32
		addralign uint64
		entsize   uint64
	}

	raws := make([]rawShdr, eShnum)
	for i := 0; i < int(eShnum); i++ {
		base := eShoff + uint64(i)*shdrSize
		b := data[base : base+shdrSize]
		raws[i] = rawShdr{
			name:      bo.Uint32(b[0:4]),
			shType:    bo.Uint32(b[4:8]),
			flags:     bo.Uint64(b[8:16]),
			addr:      bo.Uint64(b[16:24]),
			offset:    bo.Uint64(b[24:32]),
			size:      bo.Uint64(b[32:40]),
			link:      bo.Uint32(b[40:44]),
			info:      bo.Uint32(b[44:48]),
			addralign: bo.Uint64(b[48:56]),
			entsize:   bo.Uint64(b[56:64]),
		}
	}

	if int(eShstrndx) >= len(raws) {
		return nil, linkerr.New(linkerr.InvalidInput, "invalid shstrndx").WithFile(path)
	}
	shstrtab, err := sliceBounds(data, raws[eShstrndx].offset, raws[eShstrndx].size, path)
	if err != nil {
		return nil, err
	}

	sectionName := func(nameOff uint32) string { return cstr(shstrtab, nameOff) }

	obj := &ObjectFile{Path: path, Machine: eMachine}
	obj.Sections = make([]Section, eShnum)

	// strtab/symtab locate via sh_link once we find SYMTAB; RELA
	// sections carry their own symbol-table strtab indirectly through
	// the SYMTAB they point at (sh_link), which is always the object's
	// single static symbol table for a relocatable.
	var strtabData []byte
	var symtabRaw rawShdr
	haveSymtab := false

	for i, rs := range raws {
		name := sectionName(rs.name)
		sec := Section{
			Name:      name,
			Type:      rs.shType,
			Flags:     rs.flags,
			Size:      rs.size,
			Align:     rs.addralign,
			OrigIndex: i,
		}
		if rs.shType != SHT_NOBITS && rs.shType != SHT_NULL {
			raw, err := sliceBounds(data, rs.offset, rs.size, path)
			if err != nil {
				return nil, err
			}
			sec.Data = append([]byte(nil), raw...) // owned copy
		}
		obj.Sections[i] = sec

		if rs.shType == SHT_SYMTAB && !haveSymtab {
			symtabRaw = rs
			haveSymtab = true
		}
	}

	if haveSymtab {
		if int(symtabRaw.link) >= len(raws) {
			return nil, linkerr.New(linkerr.InvalidInput, "symtab sh_link out of bounds").WithFile(path)
		}
		strtabRaw := raws[symtabRaw.link]
		strtabData, err = sliceBounds(data, strtabRaw.offset, strtabRaw.size, path)
		if err != nil {
			return nil, err
		}

		symtabBytes, err := sliceBounds(data, symtabRaw.offset, symtabRaw.size, path)
		if err != nil {
			return nil, err
		}
		if symtabRaw.entsize != 0 && symtabRaw.entsize != symSize {
			return nil, linkerr.New(linkerr.InvalidInput, "unexpected symtab entry size").WithFile(path)
		}
		n := len(symtabBytes) / symSize
		obj.Symbols = make([]Symbol, n)
		for i := 0; i < n; i++ {
			b := symtabBytes[i*symSize : (i+1)*symSize]
			nameOff := bo.Uint32(b[0:4])
			info := b[4]
			shndx := bo.Uint16(b[6:8])
			value := bo.Uint64(b[8:16])
			size := bo.Uint64(b[16:24])

			sym := Symbol{
				Name:  cstr(strtabData, nameOff),
				Value: value,
				Size:  size,
				Bind:  info >> 4,
				Type:  info & 0xf,
			}
			switch shndx {
			case SHN_UNDEF:
				sym.Section = SecUndef
			case SHN_ABS:
				sym.Section = SecAbs
			case SHN_COMMON:
				sym.Section = SecCommon
			default:
				if int(shndx) >= len(obj.Sections) {
					return nil, linkerr.New(linkerr.InvalidInput, "symbol %q section index out of bounds", sym.Name).WithFile(path)
				}
				sym.Section = int(shndx)
			}
			obj.Symbols[i] = sym
		}
	}

	for i, rs := range raws {
		if rs.shType != SHT_RELA {
			continue
		}
		if int(rs.info) >= len(obj.Sections) {
			return nil, linkerr.New(linkerr.InvalidInput, "RELA sh_info out of bounds").WithFile(path)
		}
		relaBytes, err := sliceBounds(data, rs.offset, rs.size, path)
		if err != nil {
			return nil, err
		}
		if rs.entsize != 0 && rs.entsize != relaSize {
			return nil, linkerr.New(linkerr.InvalidInput, "unexpected RELA entry size").WithFile(path)
		}
		n := len(relaBytes) / relaSize
		relocs := make([]Relocation, n)
		for j := 0; j < n; j++ {
			b := relaBytes[j*relaSize : (j+1)*relaSize]
			rOffset := bo.Uint64(b[0:8])
			rInfo := bo.Uint64(b[8:16])
			rAddend := int64(bo.Uint64(b[16:24]))
			symIdx := int(rInfo >> 32)
			relType := uint32(rInfo & 0xffffffff)
			if symIdx >= len(obj.Symbols) {
				return nil, linkerr.New(linkerr.InvalidInput, "relocation symbol index out of bounds").WithFile(path)
			}
			relocs[j] = Relocation{Offset: rOffset, Type: relType, Symbol: symIdx, Addend: rAddend}
		}
		obj.Relas = append(obj.Relas, RelaSection{TargetSection: int(rs.info), Relocations: relocs})
		_ = i
	}

	return obj, nil
}

func addOK(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

func sliceBounds(data []byte, off, size uint64, path string) ([]byte, error) {
	end, ok := addOK(off, size)
	if !ok || end > uint64(len(data)) {
		return nil, linkerr.New(linkerr.InvalidInput, "section data out of bounds (off=%d size=%d)", off, size).WithFile(path)
	}
	return data[off:end], nil
}

// cstr returns the NUL-terminated string starting at off within tab, or
// the empty string if off is out of range (spec §4.1: "indices out of
// range yield the empty string rather than aborting").
func cstr(tab []byte, off uint32) string {
	if int(off) >= len(tab) {
		return ""
	}
	end := int(off)
	for end < len(tab) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}
