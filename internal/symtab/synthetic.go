package symtab

// syntheticDefault is one runtime-provided symbol spec §4.5 says the
// linker must synthesize when nothing else defines it.
type syntheticDefault struct {
	name  string
	value uint64
}

// syntheticDefaults mirrors the fixed Cosmopolitan-runtime symbol table:
// absolute constants the runtime start code expects to find even when no
// input object or archive member defines them.
var syntheticDefaults = []syntheticDefault{
	{"_GLOBAL_OFFSET_TABLE_", 0}, // patched to the GOT's real VMA once pltgot places it
	{"_edata", 0},                // patched to end of .data once layout is known
	{"_end", 0},                  // patched to end of .bss once layout is known
	{"__bss_start", 0},           // patched to start of .bss once layout is known
	{"program_invocation_name", 0},
	{"cosmo", 0},
	{"ape_pe_base", 0x400000},
	{"ape_pe_entry", 0},
	{"ape_ram_rva", 0},
	{"ape_text_rva", 0},
	{"ape_text_vsz", 0},
	{"ape_stack_memsz", 0x100000},
	{"v_ntsubsystem", 3}, // IMAGE_SUBSYSTEM_WINDOWS_CUI
}

// DefineSynthetics fills in the fixed runtime symbol table for any name
// still undefined after object and archive resolution (spec §4.5). Names
// already resolved by a real object are left untouched.
func (t *SymbolTable) DefineSynthetics() {
	for _, d := range syntheticDefaults {
		// A bare UNDEF reference (e.g. crt.o's own extern _edata) does not
		// count as a real definition: absorb's own rule is that any
		// definition replaces a prior UNDEF, and the synthetic default is
		// exactly that definition.
		if s, ok := t.Lookup(d.name); ok && existingCategory(s) != catUndef {
			continue
		}
		t.set(d.name, &ResolvedSymbol{
			Name:        d.name,
			Value:       d.value,
			ObjIndex:    -1,
			IsAbs:       true,
			IsSynthetic: true,
			Bind:        0,
		})
	}
}

// Patch overwrites the value of an already-resolved (typically synthetic)
// symbol, used once layout has computed the real address it stands for.
func (t *SymbolTable) Patch(name string, value uint64) {
	if s, ok := t.byName[name]; ok {
		s.Value = value
	}
}
