package arfmt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildObjectWithSymbol constructs a minimal ET_REL ELF64 x86-64 object
// that defines one GLOBAL FUNC symbol named sym, for exercising the
// archive symbol index without depending on elfobj's internal test
// helpers.
func buildObjectWithSymbol(sym string) []byte {
	const (
		ehdrSize = 64
		shdrSize = 64
		symSize  = 24
	)

	shstrtab := concatCStrings("", ".text", ".symtab", ".strtab", ".shstrtab")
	strtab := concatCStrings("", sym)

	symEntries := make([]byte, symSize*2)
	binary.LittleEndian.PutUint32(symEntries[symSize+0:], 1) // name offset of sym in strtab
	symEntries[symSize+4] = (1 << 4) | 2                      // STB_GLOBAL, STT_FUNC
	binary.LittleEndian.PutUint16(symEntries[symSize+6:], 1)  // shndx 1 == .text

	text := []byte{0xc3}

	type sec struct {
		name, shType               uint32
		flags, offset, size        uint64
		link, info                 uint32
		addralign, entsize         uint64
		data                       []byte
	}
	find := func(tab []byte, name string) uint32 {
		i := bytes.Index(tab, append([]byte(name), 0))
		return uint32(i)
	}
	secs := []sec{
		{},
		{name: find(shstrtab, ".text"), shType: 1 /*PROGBITS*/, flags: 0x6, size: uint64(len(text)), addralign: 1, data: text},
		{name: find(shstrtab, ".symtab"), shType: 2 /*SYMTAB*/, link: 3, info: 1, entsize: symSize, size: uint64(len(symEntries)), addralign: 8, data: symEntries},
		{name: find(shstrtab, ".strtab"), shType: 3 /*STRTAB*/, size: uint64(len(strtab)), addralign: 1, data: strtab},
		{name: find(shstrtab, ".shstrtab"), shType: 3, size: uint64(len(shstrtab)), addralign: 1, data: shstrtab},
	}

	cur := uint64(ehdrSize)
	var body bytes.Buffer
	for i := range secs {
		if secs[i].shType == 0 {
			continue
		}
		secs[i].offset = cur
		body.Write(secs[i].data)
		cur += uint64(len(secs[i].data))
	}
	shoff := cur

	var ehdr [ehdrSize]byte
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4], ehdr[5], ehdr[6] = 2, 1, 1
	binary.LittleEndian.PutUint16(ehdr[16:18], 1)  // ET_REL
	binary.LittleEndian.PutUint16(ehdr[18:20], 62) // EM_X86_64
	binary.LittleEndian.PutUint64(ehdr[40:48], shoff)
	binary.LittleEndian.PutUint16(ehdr[58:60], shdrSize)
	binary.LittleEndian.PutUint16(ehdr[60:62], uint16(len(secs)))
	binary.LittleEndian.PutUint16(ehdr[62:64], 4)

	var out bytes.Buffer
	out.Write(ehdr[:])
	out.Write(body.Bytes())
	for _, s := range secs {
		var b [shdrSize]byte
		binary.LittleEndian.PutUint32(b[0:4], s.name)
		binary.LittleEndian.PutUint32(b[4:8], s.shType)
		binary.LittleEndian.PutUint64(b[8:16], s.flags)
		binary.LittleEndian.PutUint64(b[24:32], s.offset)
		binary.LittleEndian.PutUint64(b[32:40], s.size)
		binary.LittleEndian.PutUint32(b[40:44], s.link)
		binary.LittleEndian.PutUint32(b[44:48], s.info)
		binary.LittleEndian.PutUint64(b[48:56], s.addralign)
		binary.LittleEndian.PutUint64(b[56:64], s.entsize)
		out.Write(b[:])
	}
	return out.Bytes()
}

func concatCStrings(names ...string) []byte {
	var b bytes.Buffer
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(0)
	}
	return b.Bytes()
}

func TestBuildIndexCompleteness(t *testing.T) {
	raw := Create([]Member{
		{Name: "puts.o", Data: buildObjectWithSymbol("puts")},
		{Name: "malloc.o", Data: buildObjectWithSymbol("malloc")},
		{Name: "corrupt.o", Data: []byte("not an elf file")},
	})
	a, err := OpenBytes(raw, "libc.a")
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}

	idx := BuildIndex(a)
	if len(idx) != 2 {
		t.Fatalf("len(idx) = %d, want 2: %v", len(idx), idx)
	}
	if idx["puts"].Member != "puts.o" {
		t.Fatalf("idx[puts] = %+v", idx["puts"])
	}
	if idx["malloc"].Member != "malloc.o" {
		t.Fatalf("idx[malloc] = %+v", idx["malloc"])
	}
}

func TestExtractForSymbolsDedupesOffsets(t *testing.T) {
	raw := Create([]Member{
		{Name: "multi.o", Data: buildObjectWithSymbol("foo")},
	})
	a, err := OpenBytes(raw, "lib.a")
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	idx := BuildIndex(a)
	idx["bar"] = idx["foo"] // a second needed name resolving to the same member

	objs, err := ExtractForSymbols(a, idx, map[string]bool{"foo": true, "bar": true})
	if err != nil {
		t.Fatalf("ExtractForSymbols: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("len(objs) = %d, want 1", len(objs))
	}
}
