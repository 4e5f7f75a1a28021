package inspector

import (
	"fmt"
	"strings"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/termcolor"
)

// Objdump renders spec §4.9's dump: section headers, the symbol table,
// every RELA section, and a hex-dump of sections carrying machine code.
// No real disassembly is attempted.
func Objdump(obj *elfobj.ObjectFile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: machine=%s\n\n", obj.Path, obj.Machine)

	fmt.Fprintln(&b, "Sections:")
	fmt.Fprintf(&b, "%-4s %-16s %-10s %8s %6s %6s\n", "Idx", "Name", "Type", "Size", "Align", "Flags")
	for _, s := range obj.Sections {
		fmt.Fprintf(&b, "%-4d %-16s %-10s %8d %6d %6s\n", s.OrigIndex, termcolor.Section(s.Name), sectionTypeName(s.Type), s.Size, s.Align, sectionFlagString(s.Flags))
	}

	fmt.Fprintln(&b, "\nSymbol table:")
	for i, sym := range obj.Symbols {
		fmt.Fprintf(&b, "%4d: %s %6d %-7s %-6s %s\n", i, termcolor.Address(fmt.Sprintf("%016x", sym.Value)), sym.Size, bindName(sym.Bind), typeName(sym.Type), termcolor.Symbol(sym.Name))
	}

	for _, rs := range obj.Relas {
		fmt.Fprintf(&b, "\nRELA against section %d:\n", rs.TargetSection)
		for _, r := range rs.Relocations {
			fmt.Fprintf(&b, "  offset=%#x type=%d symbol=%d addend=%d\n", r.Offset, r.Type, r.Symbol, r.Addend)
		}
	}

	for _, s := range obj.Sections {
		if s.Flags&elfobj.SHF_EXECINSTR == 0 || len(s.Data) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\nHex dump of section %s:\n", s.Name)
		hexDump(&b, s.Data)
	}

	return b.String()
}

func hexDump(b *strings.Builder, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(b, " %08x ", off)
		for i := off; i < end; i++ {
			fmt.Fprintf(b, "%02x ", data[i])
		}
		fmt.Fprintln(b)
	}
}

func sectionTypeName(t uint32) string {
	switch t {
	case elfobj.SHT_NULL:
		return "NULL"
	case elfobj.SHT_PROGBITS:
		return "PROGBITS"
	case elfobj.SHT_SYMTAB:
		return "SYMTAB"
	case elfobj.SHT_STRTAB:
		return "STRTAB"
	case elfobj.SHT_RELA:
		return "RELA"
	case elfobj.SHT_NOBITS:
		return "NOBITS"
	case elfobj.SHT_NOTE:
		return "NOTE"
	default:
		return "?"
	}
}

func sectionFlagString(f uint64) string {
	var s string
	if f&elfobj.SHF_ALLOC != 0 {
		s += "A"
	}
	if f&elfobj.SHF_WRITE != 0 {
		s += "W"
	}
	if f&elfobj.SHF_EXECINSTR != 0 {
		s += "X"
	}
	if s == "" {
		return "-"
	}
	return s
}

func bindName(b uint8) string {
	switch b {
	case elfobj.STB_LOCAL:
		return "LOCAL"
	case elfobj.STB_GLOBAL:
		return "GLOBAL"
	case elfobj.STB_WEAK:
		return "WEAK"
	default:
		return "?"
	}
}

func typeName(t uint8) string {
	switch t {
	case elfobj.STT_NOTYPE:
		return "NOTYPE"
	case elfobj.STT_OBJECT:
		return "OBJECT"
	case elfobj.STT_FUNC:
		return "FUNC"
	case elfobj.STT_SECTION:
		return "SECTION"
	case elfobj.STT_FILE:
		return "FILE"
	case elfobj.STT_COMMON:
		return "COMMON"
	default:
		return "?"
	}
}
