// Package inspector implements the ELF inspection utilities (spec
// component C10): nm, objdump, and strip, all built on top of the same
// elfobj reader the linker itself uses (spec §4.9).
package inspector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/termcolor"
)

// NmFormat selects nm's output dialect.
type NmFormat int

const (
	NmFormatBSD NmFormat = iota
	NmFormatPOSIX
	NmFormatSysV
)

// NmEntry is one row of nm output, already classified and ready to
// print in any of the three dialects.
type NmEntry struct {
	Name    string
	Value   uint64
	HasAddr bool
	Letter  byte
}

// typeLetter implements spec §4.9's BSD symbol-type-letter mapping.
// Uppercase marks GLOBAL/WEAK binding, lowercase LOCAL.
func typeLetter(obj *elfobj.ObjectFile, sym elfobj.Symbol) byte {
	var letter byte
	switch {
	case sym.Section == elfobj.SecUndef:
		return 'U'
	case sym.Section == elfobj.SecAbs:
		letter = 'a'
	case sym.Section == elfobj.SecCommon || sym.Type == elfobj.STT_COMMON:
		letter = 'c'
	default:
		if sym.Section >= 0 && sym.Section < len(obj.Sections) {
			letter = sectionLetter(obj.Sections[sym.Section])
		} else {
			letter = '?'
		}
	}
	if sym.Bind != elfobj.STB_LOCAL {
		letter = upper(letter)
	}
	return letter
}

func sectionLetter(s elfobj.Section) byte {
	switch {
	case s.Type == elfobj.SHT_NOBITS:
		return 'b'
	case s.Flags&elfobj.SHF_EXECINSTR != 0:
		return 't'
	case s.Flags&elfobj.SHF_WRITE != 0:
		return 'd'
	case s.Flags&elfobj.SHF_ALLOC != 0:
		return 'r'
	default:
		return '?'
	}
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// Nm lists every named, non-section, non-file symbol of obj, sorted by
// (address, name) as spec §4.9 requires.
func Nm(obj *elfobj.ObjectFile) []NmEntry {
	var entries []NmEntry
	for _, sym := range obj.Symbols {
		if sym.Name == "" || sym.Type == elfobj.STT_SECTION || sym.Type == elfobj.STT_FILE {
			continue
		}
		entries = append(entries, NmEntry{
			Name:    sym.Name,
			Value:   sym.Value,
			HasAddr: sym.Section != elfobj.SecUndef,
			Letter:  typeLetter(obj, sym),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value < entries[j].Value
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// FormatNm renders entries in the requested dialect, colorizing the
// address and symbol columns the way the CLI colorizes its diagnostics
// (termcolor no-ops when stdout isn't a terminal).
func FormatNm(entries []NmEntry, format NmFormat) string {
	var b strings.Builder
	for _, e := range entries {
		name := termcolor.Symbol(e.Name)
		addr := termcolor.Address(fmt.Sprintf("%016x", e.Value))
		switch format {
		case NmFormatPOSIX:
			// name type value size — size is omitted here (not tracked per entry)
			if e.HasAddr {
				fmt.Fprintf(&b, "%s %c %s\n", name, e.Letter, addr)
			} else {
				fmt.Fprintf(&b, "%s %c\n", name, e.Letter)
			}
		case NmFormatSysV:
			if e.HasAddr {
				fmt.Fprintf(&b, "%-20s|%s|%c\n", name, addr, e.Letter)
			} else {
				fmt.Fprintf(&b, "%-20s|%16s|%c\n", name, "", e.Letter)
			}
		default: // BSD
			if e.HasAddr {
				fmt.Fprintf(&b, "%s %c %s\n", addr, e.Letter, name)
			} else {
				fmt.Fprintf(&b, "%16s %c %s\n", "", e.Letter, name)
			}
		}
	}
	return b.String()
}
