// Package pltgot synthesizes the GOT and PLT used only to redirect
// relocations whose 32-bit PC-relative displacement overflowed during
// relocation pass 1 (spec component C7, spec §4.6 pass 2). This is never
// a dynamic-linking GOT/PLT; every entry is resolved at link time.
package pltgot

import (
	"sort"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
	"github.com/coldironforge/linker/internal/reloc"
	"github.com/coldironforge/linker/internal/symtab"
)

const (
	gotEntrySize = 8
	pltStubSize  = 16
)

// Table records the synthesized layout: one GOT slot and one PLT stub
// per unique overflowing symbol, in deterministic (sorted by name) order.
// GotVMA/PltVMA are only valid once Fill has run.
type Table struct {
	Names   []string
	GotVMA  uint64
	PltVMA  uint64
	indexOf map[string]int
}

func (t *Table) gotSlotAddr(name string) uint64 {
	return t.GotVMA + uint64(t.indexOf[name])*gotEntrySize
}

func (t *Table) pltStubAddr(name string) uint64 {
	return t.PltVMA + uint64(t.indexOf[name])*pltStubSize
}

// Reserve implements spec §4.6 pass 2 step 1: size a .got/.plt pair for
// one slot/stub per unique overflowing symbol. The returned sections
// carry no VMA yet — the caller splices them into the image with
// layout.InsertAfter and assigns real addresses with
// layout.AssignAddresses before calling Fill. Letting AssignAddresses
// be the single placement authority means the stub encodings, the
// rewritten call sites, and the ELF writer never disagree about where
// .got/.plt actually landed.
func Reserve(overflows []reloc.OverflowSite) (*Table, []*layout.MergedSection) {
	names := uniqueSortedNames(overflows)
	if len(names) == 0 {
		return &Table{indexOf: map[string]int{}}, nil
	}

	t := &Table{Names: names, indexOf: make(map[string]int, len(names))}
	for i, n := range names {
		t.indexOf[n] = i
	}

	got := &layout.MergedSection{
		Name: ".got", Flags: elfobj.SHF_ALLOC | elfobj.SHF_WRITE, Align: 8,
		Data: make([]byte, len(names)*gotEntrySize), Size: uint64(len(names) * gotEntrySize),
	}
	plt := &layout.MergedSection{
		Name: ".plt", Flags: elfobj.SHF_ALLOC | elfobj.SHF_EXECINSTR, Align: 16,
		Data: make([]byte, len(names)*pltStubSize), Size: uint64(len(names) * pltStubSize),
	}
	return t, []*layout.MergedSection{got, plt}
}

// Fill implements spec §4.6 pass 2 steps 2 and 4: writing each GOT slot
// value and PLT stub once .got/.plt carry the VMAs
// layout.AssignAddresses gave them, and recording those same VMAs on t
// so RewriteSites and the caller's _GLOBAL_OFFSET_TABLE_ patch agree
// with what the ELF writer emits.
func Fill(t *Table, sections []*layout.MergedSection, table *symtab.SymbolTable, machineIsAArch64 bool) error {
	if len(t.Names) == 0 {
		return nil
	}
	got := layout.Find(sections, ".got")
	plt := layout.Find(sections, ".plt")
	if got == nil || plt == nil {
		return linkerr.New(linkerr.InvalidInput, "GOT/PLT sections missing after layout")
	}
	t.GotVMA = got.VMA
	t.PltVMA = plt.VMA

	for i, name := range t.Names {
		sym, ok := table.Lookup(name)
		if !ok {
			return linkerr.New(linkerr.MissingEntry, "overflowing symbol %q has no resolved value for PLT synthesis", name)
		}
		writeLE64(got.Data, i*gotEntrySize, sym.Value)

		stubAddr := t.PltVMA + uint64(i)*pltStubSize
		gotSlotAddr := t.GotVMA + uint64(i)*gotEntrySize
		if machineIsAArch64 {
			encodeAArch64Stub(plt.Data[i*pltStubSize:(i+1)*pltStubSize], stubAddr, gotSlotAddr)
		} else {
			encodeX8664Stub(plt.Data[i*pltStubSize:(i+1)*pltStubSize], stubAddr, gotSlotAddr)
		}
	}
	return nil
}

// encodeX8664Stub writes `ff 25 <disp32>` (jmpq *disp32(%rip)) padded to
// 16 bytes with int3 (0xcc), per spec §4.6 pass 2 step 2.
func encodeX8664Stub(buf []byte, stubAddr, gotSlotAddr uint64) {
	for i := range buf {
		buf[i] = 0xcc
	}
	buf[0], buf[1] = 0xff, 0x25
	disp := int32(int64(gotSlotAddr) - int64(stubAddr+6))
	writeLE32(buf, 2, uint32(disp))
}

// encodeAArch64Stub implements spec Open Question 4's resolution: a
// four-instruction adrp+ldr+br+nop sequence loading the GOT slot's
// 64-bit value into x16 (the AArch64 PCS's designated IP0 scratch
// register for linker-generated veneers) and branching to it.
//
//	adrp  x16, gotpage
//	ldr   x16, [x16, #gotoff]
//	br    x16
//	nop
func encodeAArch64Stub(buf []byte, stubAddr, gotSlotAddr uint64) {
	page := func(x uint64) uint64 { return x &^ 0xfff }
	pageDelta := int64(page(gotSlotAddr)) - int64(page(stubAddr))
	immhi := uint32((pageDelta >> 14) & 0x7ffff)
	immlo := uint32((pageDelta >> 12) & 0x3)
	adrp := uint32(0x90000010) // ADRP x16, #0 (opcode with Rd=x16=0b10000)
	adrp |= immlo << 29
	adrp |= immhi << 5
	writeLE32(buf, 0, adrp)

	lo12 := (gotSlotAddr & 0xfff) >> 3 // scaled by 8 (LDR X)
	ldr := uint32(0xf9400210)          // LDR x16, [x16, #0]
	ldr |= uint32(lo12&0xfff) << 10
	writeLE32(buf, 4, ldr)

	br := uint32(0xd61f0200) // BR x16
	writeLE32(buf, 8, br)

	nop := uint32(0xd503201f)
	writeLE32(buf, 12, nop)
}

func writeLE32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func writeLE64(buf []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[off+i] = byte(v >> (8 * i))
	}
}

func uniqueSortedNames(overflows []reloc.OverflowSite) []string {
	seen := make(map[string]bool)
	var names []string
	for _, o := range overflows {
		if !seen[o.SymbolName] {
			seen[o.SymbolName] = true
			names = append(names, o.SymbolName)
		}
	}
	sort.Strings(names)
	return names
}

// isAArch64Branch26 reports whether relType is one of the branch
// relocations whose overflow path (spec §4.6 pass 2) queues a 26-bit
// word-displacement instruction field rather than a raw 32-bit
// displacement in data.
func isAArch64Branch26(relType uint32) bool {
	return relType == reloc.RAARCH64_CALL26 || relType == reloc.RAARCH64_JUMP26
}

// RewriteSites implements spec §4.6 pass 2 step 3: replace each
// overflow's previously-skipped site with a displacement to its PLT
// stub. x86-64 PC32/PLT32-class sites and the AArch64 CALL26/JUMP26
// sites queued here are both PC-relative, but they are encoded
// differently: the former is a raw little-endian disp32 written into
// data, the latter a signed 26-bit word-displacement packed into bits
// [25:0] of the branch instruction itself. The x86-64 displacement is
// measured from the end of the 4-byte field (stub - (site+4)); the
// AArch64 one from the branch instruction itself (stub + addend - site),
// as the pass-1 applier computes S+A-P. Fails fatally if the new
// displacement itself overflows, since no further indirection is
// available.
func RewriteSites(overflows []reloc.OverflowSite, t *Table) error {
	for _, o := range overflows {
		stubAddr := t.pltStubAddr(o.SymbolName)
		disp := int64(stubAddr) - int64(o.SiteAddr+4)
		buf := o.Section.Data
		off := o.Offset

		if isAArch64Branch26(o.RelType) {
			bdisp := int64(stubAddr) + o.Addend - int64(o.SiteAddr)
			if bdisp%4 != 0 {
				return linkerr.New(linkerr.InvalidInput, "PLT stub for %q is not 4-byte aligned relative to its call site", o.SymbolName).WithSymbol(o.SymbolName)
			}
			imm := bdisp >> 2
			if imm < -(1<<25) || imm >= (1<<25) {
				return linkerr.New(linkerr.RelocationOverflow, "PLT stub for %q is still out of range of its call site", o.SymbolName).WithSymbol(o.SymbolName).WithNum(imm)
			}
			insn, err := reloc.ReadInsn(buf, off)
			if err != nil {
				return err
			}
			insn = reloc.SetField(insn, 0, 25, uint32(imm))
			if err := reloc.WriteInsn(buf, off, insn); err != nil {
				return err
			}
			continue
		}

		if disp < -(1<<31) || disp >= (1<<31) {
			return linkerr.New(linkerr.RelocationOverflow, "PLT stub for %q is still out of range of its call site", o.SymbolName).WithSymbol(o.SymbolName).WithNum(disp)
		}
		if off+4 > uint64(len(buf)) {
			return linkerr.New(linkerr.InvalidInput, "overflow rewrite site out of bounds")
		}
		writeLE32(buf, int(off), uint32(int32(disp)))
	}
	return nil
}
