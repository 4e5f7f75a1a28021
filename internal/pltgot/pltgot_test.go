package pltgot

import (
	"testing"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/reloc"
	"github.com/coldironforge/linker/internal/symtab"
)

func TestReserveThenFillPlacesGotAfterTextAndPltAfterGot(t *testing.T) {
	text := &layout.MergedSection{Name: ".text", Size: 0x100, Data: make([]byte, 0x100)}
	sections := []*layout.MergedSection{text}

	defObj := &elfobj.ObjectFile{Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecAbs, Value: 0x500000000}}}
	table := symtab.Resolve([]*elfobj.ObjectFile{defObj})

	overflows := []reloc.OverflowSite{{Section: text, Offset: 10, SymbolName: "f"}}

	pt, extra := Reserve(overflows)
	if len(extra) != 2 {
		t.Fatalf("expected .got and .plt, got %d sections", len(extra))
	}

	sections = layout.InsertAfter(sections, ".text", extra)
	layout.AssignAddresses(sections)

	got := layout.Find(sections, ".got")
	plt := layout.Find(sections, ".plt")
	if got.VMA%8 != 0 {
		t.Fatalf(".got VMA %#x not 8-aligned", got.VMA)
	}
	if got.VMA < text.VMA+text.Size {
		t.Fatalf(".got VMA %#x precedes end of .text %#x", got.VMA, text.VMA+text.Size)
	}
	if plt.VMA%16 != 0 {
		t.Fatalf(".plt VMA %#x not 16-aligned", plt.VMA)
	}

	if err := Fill(pt, sections, table, false); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if pt.GotVMA != got.VMA || pt.PltVMA != plt.VMA {
		t.Fatalf("Table addresses %#x/%#x do not match assigned section VMAs %#x/%#x", pt.GotVMA, pt.PltVMA, got.VMA, plt.VMA)
	}
	if len(pt.Names) != 1 || pt.Names[0] != "f" {
		t.Fatalf("Names = %v", pt.Names)
	}
}

// TestFillReconcilesOddOverflowCountAlignment exercises the exact case
// that used to desync the two address frames: an odd number of
// overflowing symbols leaves .got sized to a non-16-byte multiple, so
// .plt needs padding that only layout.AssignAddresses knows to apply.
func TestFillReconcilesOddOverflowCountAlignment(t *testing.T) {
	text := &layout.MergedSection{Name: ".text", Size: 0x100, Data: make([]byte, 0x100)}
	sections := []*layout.MergedSection{text}

	defObj := &elfobj.ObjectFile{Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecAbs, Value: 0x500000000}}}
	table := symtab.Resolve([]*elfobj.ObjectFile{defObj})

	overflows := []reloc.OverflowSite{{Section: text, Offset: 10, SymbolName: "f"}}
	pt, extra := Reserve(overflows)

	sections = layout.InsertAfter(sections, ".text", extra)
	layout.AssignAddresses(sections)

	plt := layout.Find(sections, ".plt")
	if plt.VMA%16 != 0 {
		t.Fatalf(".plt VMA %#x must be 16-aligned even when .got ends at a non-multiple of 16", plt.VMA)
	}
	if err := Fill(pt, sections, table, false); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if pt.PltVMA != plt.VMA {
		t.Fatalf("Table.PltVMA %#x diverged from the assigned .plt VMA %#x", pt.PltVMA, plt.VMA)
	}
}

func TestRewriteSitesProducesCorrectDisplacement(t *testing.T) {
	text := &layout.MergedSection{Name: ".text", Size: 0x100, Data: make([]byte, 0x100)}
	sections := []*layout.MergedSection{text}

	defObj := &elfobj.ObjectFile{Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecAbs, Value: 0x500000000}}}
	table := symtab.Resolve([]*elfobj.ObjectFile{defObj})

	overflows := []reloc.OverflowSite{{Section: text, Offset: 10, SymbolName: "f"}}
	pt, extra := Reserve(overflows)
	sections = layout.InsertAfter(sections, ".text", extra)
	layout.AssignAddresses(sections)
	overflows[0].SiteAddr = text.VMA + 10

	if err := Fill(pt, sections, table, false); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := RewriteSites(overflows, pt); err != nil {
		t.Fatalf("RewriteSites: %v", err)
	}

	stubAddr := pt.pltStubAddr("f")
	wantDisp := int64(stubAddr) - int64(overflows[0].SiteAddr+4)
	if wantDisp < -(1<<31) || wantDisp >= (1<<31) {
		t.Fatal("test setup produced an out-of-range displacement")
	}
	gotDisp := int32(text.Data[10]) | int32(text.Data[11])<<8 | int32(text.Data[12])<<16 | int32(text.Data[13])<<24
	if int64(gotDisp) != wantDisp {
		t.Fatalf("rewritten displacement = %d, want %d", gotDisp, wantDisp)
	}
}

// TestRewriteSitesReencodesAArch64Branch26 exercises the bug the raw
// 32-bit overwrite used to hit: a CALL26 overflow site is an
// instruction word whose branch target lives in bits [25:0], not a
// free-standing displacement field.
func TestRewriteSitesReencodesAArch64Branch26(t *testing.T) {
	text := &layout.MergedSection{Name: ".text", Size: 16, Data: make([]byte, 16)}
	// BL #0 (opcode 0x94000000) at offset 0: bits[25:0] start at zero.
	text.Data[0], text.Data[1], text.Data[2], text.Data[3] = 0x00, 0x00, 0x00, 0x94
	sections := []*layout.MergedSection{text}

	defObj := &elfobj.ObjectFile{Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecAbs, Value: 0x500000000}}}
	table := symtab.Resolve([]*elfobj.ObjectFile{defObj})

	overflows := []reloc.OverflowSite{{Section: text, Offset: 0, SymbolName: "f", RelType: reloc.RAARCH64_CALL26}}
	pt, extra := Reserve(overflows)
	sections = layout.InsertAfter(sections, ".text", extra)
	layout.AssignAddresses(sections)
	overflows[0].SiteAddr = text.VMA

	if err := Fill(pt, sections, table, true); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := RewriteSites(overflows, pt); err != nil {
		t.Fatalf("RewriteSites: %v", err)
	}

	insn, err := reloc.ReadInsn(text.Data, 0)
	if err != nil {
		t.Fatalf("ReadInsn: %v", err)
	}
	if insn&0xfc000000 != 0x94000000 {
		t.Fatalf("branch opcode bits corrupted: %#x", insn)
	}
	imm := int32(insn&0x03ffffff) << 6 >> 6 // sign-extend 26 bits
	stubAddr := pt.pltStubAddr("f")
	wantImm := (int64(stubAddr) - int64(overflows[0].SiteAddr)) >> 2
	if int64(imm) != wantImm {
		t.Fatalf("branch immediate = %d, want %d", imm, wantImm)
	}
}
