// Package layout implements the section merger and address assigner
// (spec component C4): grouping like-named sections across every input
// object into MergedSections and assigning them virtual addresses in a
// fixed order.
package layout

import (
	"sort"
	"strings"

	"github.com/coldironforge/linker/internal/elfobj"
)

const pageSize = 4096

// BaseAddress is the fixed load base for the output image (spec §4.4).
const BaseAddress = 0x400000

// Contribution records where one input section landed inside a
// MergedSection, so the relocation engine can translate a (object,
// section) pair into an absolute address.
type Contribution struct {
	ObjIndex    int
	SecOrigIdx  int
	OffsetInMerged uint64
}

// MergedSection is the concatenation of every contributing section that
// shares a canonical family name (spec §3).
type MergedSection struct {
	Name  string
	Data  []byte // empty for .bss
	Size  uint64
	VMA   uint64
	Flags uint64
	Align uint64

	Contribs []Contribution
}

// canonicalFamily implements spec §4.4's folding rule. ok is false when
// the section must be dropped from the output image entirely.
func canonicalFamily(s elfobj.Section) (name string, ok bool) {
	if s.Type == elfobj.SHT_NULL || s.Type == elfobj.SHT_SYMTAB || s.Type == elfobj.SHT_STRTAB || s.Type == elfobj.SHT_RELA {
		return "", false
	}
	if strings.HasPrefix(s.Name, ".debug") {
		return "", false
	}
	if s.Flags&elfobj.SHF_ALLOC == 0 {
		return "", false
	}
	switch {
	case s.Name == ".text" || strings.HasPrefix(s.Name, ".text."):
		return ".text", true
	case s.Name == ".rodata" || strings.HasPrefix(s.Name, ".rodata."):
		return ".rodata", true
	case s.Name == ".data" || strings.HasPrefix(s.Name, ".data."):
		return ".data", true
	case s.Name == ".bss":
		return ".bss", true
	default:
		return s.Name, true
	}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Merge groups every eligible section across objs into MergedSections,
// concatenating contributors in input order (spec §4.4's concatenation
// contract). Merging the same object twice appends a second,
// independently-aligned copy rather than deduplicating it (spec
// property 4).
func Merge(objs []*elfobj.ObjectFile) []*MergedSection {
	order := []string{".text", ".rodata", ".data", ".bss"}
	byName := make(map[string]*MergedSection)
	var others []string

	ensure := func(name string) *MergedSection {
		if m, ok := byName[name]; ok {
			return m
		}
		m := &MergedSection{Name: name}
		byName[name] = m
		isKnown := false
		for _, o := range order {
			if o == name {
				isKnown = true
			}
		}
		if !isKnown {
			others = append(others, name)
		}
		return m
	}

	for objIdx, obj := range objs {
		for _, sec := range obj.Sections {
			family, ok := canonicalFamily(sec)
			if !ok {
				continue
			}
			if sec.Size == 0 {
				continue // zero-sized contributions are ignored
			}
			m := ensure(family)
			align := max(m.Align, sec.Align)
			if align > m.Align {
				m.Align = align
			}
			m.Flags |= sec.Flags

			if family == ".bss" {
				cursor := alignUp(m.Size, align)
				m.Contribs = append(m.Contribs, Contribution{ObjIndex: objIdx, SecOrigIdx: sec.OrigIndex, OffsetInMerged: cursor})
				m.Size = cursor + sec.Size
				continue
			}

			cursor := alignUp(uint64(len(m.Data)), align)
			if pad := cursor - uint64(len(m.Data)); pad > 0 {
				m.Data = append(m.Data, make([]byte, pad)...)
			}
			m.Contribs = append(m.Contribs, Contribution{ObjIndex: objIdx, SecOrigIdx: sec.OrigIndex, OffsetInMerged: cursor})
			m.Data = append(m.Data, sec.Data...)
			m.Size = uint64(len(m.Data))
		}
	}

	sort.Strings(others)

	var result []*MergedSection
	for _, name := range order {
		if m, ok := byName[name]; ok {
			result = append(result, m)
		}
	}
	for _, name := range others {
		result = append(result, byName[name])
	}
	return result
}
