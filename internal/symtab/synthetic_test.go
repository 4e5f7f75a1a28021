package symtab

import (
	"testing"

	"github.com/coldironforge/linker/internal/elfobj"
)

func TestDefineSyntheticsFillsNameNeverMentioned(t *testing.T) {
	table := New()
	table.DefineSynthetics()

	sym, ok := table.Lookup("_edata")
	if !ok || !sym.IsSynthetic {
		t.Fatalf("_edata = %+v, ok=%v, want a synthesized entry", sym, ok)
	}
}

func TestDefineSyntheticsReplacesBareUndefReference(t *testing.T) {
	// crt.o-style extern reference to _edata: present in the table only
	// as an UNDEF placeholder, never as a real definition.
	crt := objWith(elfobj.Symbol{Name: "_edata", Bind: elfobj.STB_GLOBAL, Section: elfobj.SecUndef})
	table := Resolve([]*elfobj.ObjectFile{crt})

	if _, ok := table.Lookup("_edata"); !ok {
		t.Fatal("expected an UNDEF placeholder for _edata before DefineSynthetics runs")
	}

	table.DefineSynthetics()

	sym, ok := table.Lookup("_edata")
	if !ok {
		t.Fatal("_edata missing after DefineSynthetics")
	}
	if !sym.IsSynthetic || !sym.IsAbs {
		t.Fatalf("_edata = %+v, want a synthesized, defined entry replacing the UNDEF placeholder", sym)
	}
	if len(table.Undefined()) != 0 {
		t.Fatalf("Undefined() = %v, want none: _edata's UNDEF placeholder must not survive synthesis", table.Undefined())
	}
}

func TestDefineSyntheticsLeavesRealDefinitionAlone(t *testing.T) {
	obj := objWith(elfobj.Symbol{Name: "_edata", Bind: elfobj.STB_GLOBAL, Section: 1, Value: 0x1234})
	table := Resolve([]*elfobj.ObjectFile{obj})

	table.DefineSynthetics()

	sym, _ := table.Lookup("_edata")
	if sym.IsSynthetic || sym.Value != 0x1234 || sym.ObjIndex != 0 {
		t.Fatalf("_edata = %+v, want the real object definition untouched", sym)
	}
}
