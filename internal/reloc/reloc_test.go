package reloc

import (
	"encoding/binary"
	"testing"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/logx"
	"github.com/coldironforge/linker/internal/symtab"
)

func mergedWithData(name string, vma uint64, size int) *layout.MergedSection {
	return &layout.MergedSection{Name: name, VMA: vma, Data: make([]byte, size), Size: uint64(size)}
}

// tableWithAbs resolves a table containing one absolute symbol at value,
// by resolving it alongside the referencing object so the usual
// resolution path (not test-only back doors) produces it.
func tableWithAbs(name string, value uint64, referencing *elfobj.ObjectFile) *symtab.SymbolTable {
	defining := &elfobj.ObjectFile{Symbols: []elfobj.Symbol{{Name: name, Bind: elfobj.STB_GLOBAL, Section: elfobj.SecAbs, Value: value}}}
	return symtab.Resolve([]*elfobj.ObjectFile{defining, referencing})
}

func TestApplyX8664PC32InRange(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 16)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "target", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 4, Type: RX86_64_PC32, Symbol: 0, Addend: -4},
		}}},
	}

	table := tableWithAbs("target", 0x400500, obj)
	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_X86_64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || len(res.Overflows) != 0 {
		t.Fatalf("expected 1 applied, 0 overflow, got %+v", res)
	}

	got := int32(binary.LittleEndian.Uint32(text.Data[4:8]))
	want := int32(int64(0x400500) + (-4) - int64(0x400000+4))
	if got != want {
		t.Fatalf("PC32 write = %d, want %d", got, want)
	}
}

func TestApplyX8664PC32Overflow(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 16)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RX86_64_PLT32, Symbol: 0, Addend: -4},
		}}},
	}

	table := tableWithAbs("f", 0x400000+(1<<33), obj) // far beyond +-2GB
	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_X86_64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Overflows) != 1 {
		t.Fatalf("expected 1 overflow, got %+v", res)
	}
	if res.Overflows[0].SymbolName != "f" {
		t.Fatalf("overflow symbol = %q", res.Overflows[0].SymbolName)
	}
}

func TestApplyX8664Width32OverflowWarnsAndSkipsRatherThanAborting(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 16)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RX86_64_32, Symbol: 0, Addend: 0},
		}}},
	}

	table := tableWithAbs("f", 1<<40, obj) // does not fit 32 bits either way
	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_X86_64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v, want warn-and-skip instead of a fatal error", err)
	}
	if res.Skipped != 1 || res.Applied != 0 || len(res.Overflows) != 0 {
		t.Fatalf("expected 1 skipped, got %+v", res)
	}
}

func TestApplyAArch64Abs16OverflowWarnsAndSkips(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 8)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RAARCH64_ABS16, Symbol: 0, Addend: 0},
		}}},
	}

	table := tableWithAbs("f", 1<<20, obj)
	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_AARCH64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v, want warn-and-skip instead of a fatal error", err)
	}
	if res.Skipped != 1 || res.Applied != 0 {
		t.Fatalf("expected 1 skipped, got %+v", res)
	}
}

func TestApplyAArch64AdrpAddPair(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 8)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	symVal := uint64(0x400000 + 0x12345)
	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "sym", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RAARCH64_ADR_PREL_PG_HI21, Symbol: 0, Addend: 0},
			{Offset: 4, Type: RAARCH64_ADD_ABS_LO12_NC, Symbol: 0, Addend: 0},
		}}},
	}
	table := tableWithAbs("sym", symVal, obj)

	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_AARCH64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 2 {
		t.Fatalf("expected 2 applied, got %+v", res)
	}

	adrp := binary.LittleEndian.Uint32(text.Data[0:4])
	add := binary.LittleEndian.Uint32(text.Data[4:8])

	immlo := (adrp >> 29) & 0x3
	immhi := (adrp >> 5) & 0x7ffff
	pageDelta := int32(immhi<<2 | immlo)
	pageDelta = (pageDelta << 11) >> 11 // sign-extend from 21 bits

	wantPageDelta := int32((int64(symVal&^0xfff) - int64(uint64(0x400000)&^0xfff)) >> 12)
	if pageDelta != wantPageDelta {
		t.Fatalf("adrp page delta = %d, want %d", pageDelta, wantPageDelta)
	}

	lo12 := (add >> 10) & 0xfff
	if uint64(lo12) != symVal&0xfff {
		t.Fatalf("add lo12 = %#x, want %#x", lo12, symVal&0xfff)
	}
}

// TestApplyX8664RelativeWithUndefSymbolIndexStillApplies covers a
// RELATIVE relocation carrying the conventional r_sym == STN_UNDEF (an
// unnamed, SecUndef symbol table entry): RELATIVE never reads S, so it
// must not be dropped as an unresolved reference.
func TestApplyX8664RelativeWithUndefSymbolIndexStillApplies(t *testing.T) {
	data := mergedWithData(".data", 0x401000, 8)
	sections := []*layout.MergedSection{data}
	data.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "", Section: elfobj.SecUndef}}, // STN_UNDEF
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RX86_64_RELATIVE, Symbol: 0, Addend: 0x20},
		}}},
	}
	table := symtab.New()

	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_X86_64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 0 {
		t.Fatalf("expected 1 applied, 0 skipped, got %+v", res)
	}
	got := binary.LittleEndian.Uint64(data.Data)
	want := uint64(layout.BaseAddress + 0x20)
	if got != want {
		t.Fatalf("R_X86_64_RELATIVE write = %#x, want %#x", got, want)
	}
}

// TestApplyAArch64RelativeUsesBaseAddressNotSymbolValue guards against
// RELATIVE being folded into the same S+A formula as GLOB_DAT/JUMP_SLOT:
// RELATIVE ignores the symbol entirely and writes base+addend.
func TestApplyAArch64RelativeUsesBaseAddressNotSymbolValue(t *testing.T) {
	data := mergedWithData(".data", 0x401000, 8)
	sections := []*layout.MergedSection{data}
	data.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 0}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "", Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: 0, Type: RAARCH64_RELATIVE, Symbol: 0, Addend: 0x30},
		}}},
	}
	table := symtab.New()

	res, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_AARCH64, logx.NewNop())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("expected 1 applied, got %+v", res)
	}
	got := binary.LittleEndian.Uint64(data.Data)
	want := uint64(layout.BaseAddress + 0x30)
	if got != want {
		t.Fatalf("R_AARCH64_RELATIVE write = %#x, want %#x", got, want)
	}
}

// TestApplyRejectsRelocationOffsetThatWrapsUint64 covers a malformed
// relocation whose Offset is large enough that target.offset+rel.Offset
// wraps around uint64 back into the section's valid range.
func TestApplyRejectsRelocationOffsetThatWrapsUint64(t *testing.T) {
	text := mergedWithData(".text", 0x400000, 16)
	sections := []*layout.MergedSection{text}
	text.Contribs = []layout.Contribution{{ObjIndex: 0, SecOrigIdx: 1, OffsetInMerged: 4}}

	obj := &elfobj.ObjectFile{
		Symbols: []elfobj.Symbol{{Name: "f", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef}},
		Relas: []elfobj.RelaSection{{TargetSection: 1, Relocations: []elfobj.Relocation{
			{Offset: ^uint64(0) - 1, Type: RX86_64_64, Symbol: 0, Addend: 0},
		}}},
	}
	table := tableWithAbs("f", 0x400000, obj)

	_, err := Apply([]*elfobj.ObjectFile{obj}, sections, table, elfobj.EM_X86_64, logx.NewNop())
	if err == nil {
		t.Fatal("expected an out-of-bounds error, got nil")
	}
}
