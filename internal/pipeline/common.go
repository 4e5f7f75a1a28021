package pipeline

import (
	"sort"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/symtab"
)

// growCommons gives every resolved COMMON symbol space in .bss ahead of
// address assignment (spec §4.5 / test scenario 5), creating .bss if no
// input object contributed one. Allocation order is the sorted symbol
// name, so the layout is deterministic regardless of resolution order.
// It returns the (possibly grown) section list and each symbol's offset
// within .bss, to be turned into an absolute address once
// layout.AssignAddresses has placed .bss.
func growCommons(sections []*layout.MergedSection, table *symtab.SymbolTable) ([]*layout.MergedSection, map[string]uint64) {
	var names []string
	for _, n := range table.Names() {
		if s, ok := table.Lookup(n); ok && s.IsCommon {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return sections, nil
	}
	sort.Strings(names)

	bss := layout.Find(sections, ".bss")
	if bss == nil {
		bss = &layout.MergedSection{Name: ".bss", Flags: elfobj.SHF_ALLOC | elfobj.SHF_WRITE}
		sections = insertBSS(sections, bss)
	}

	offsets := make(map[string]uint64, len(names))
	for _, n := range names {
		sym, _ := table.Lookup(n)
		align := sym.Align
		if align == 0 {
			align = 1
		}
		offsets[n] = layout.AppendBSS(bss, sym.Size, align)
	}
	return sections, offsets
}

// insertBSS places a freshly-synthesized .bss (no input object
// contributed a real one) right after the last of .text/.rodata/.data
// present, preserving layout.AssignAddresses's documented fixed order
// even when arbitrarily-named "other" sections are already in the list.
func insertBSS(sections []*layout.MergedSection, bss *layout.MergedSection) []*layout.MergedSection {
	at := 0
	for i, s := range sections {
		if s.Name == ".text" || s.Name == ".rodata" || s.Name == ".data" {
			at = i + 1
		}
	}
	out := make([]*layout.MergedSection, 0, len(sections)+1)
	out = append(out, sections[:at]...)
	out = append(out, bss)
	out = append(out, sections[at:]...)
	return out
}

// patchCommonAddresses turns each COMMON symbol's .bss offset into its
// final absolute address, once address assignment has placed .bss.
func patchCommonAddresses(sections []*layout.MergedSection, table *symtab.SymbolTable, offsets map[string]uint64) {
	if len(offsets) == 0 {
		return
	}
	bss := layout.Find(sections, ".bss")
	if bss == nil {
		return
	}
	for name, off := range offsets {
		table.Patch(name, bss.VMA+off)
	}
}
