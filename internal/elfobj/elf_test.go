package elfobj

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalObject assembles a tiny ET_REL ELF64 x86-64 object with one
// PROGBITS .text section, one symbol table, one string table, and a
// shstrtab, entirely in memory (mirrors the teacher's self-contained
// byte-fixture testing style rather than golden files).
func buildMinimalObject(t *testing.T) []byte {
	t.Helper()

	text := []byte{0x90, 0x90, 0xc3} // nop; nop; ret

	shstrtab := buildStrtab("", ".text", ".symtab", ".strtab", ".shstrtab")
	strtab := buildStrtab("", "_start")

	// one GLOBAL FUNC symbol "_start" defined in .text at offset 0
	sym := make([]byte, symSize*2) // null symbol + _start
	nameOff := uint32(1)
	binary.LittleEndian.PutUint32(sym[symSize+0:], nameOff)
	sym[symSize+4] = (STB_GLOBAL << 4) | STT_FUNC
	binary.LittleEndian.PutUint16(sym[symSize+6:], 1) // shndx 1 == .text
	binary.LittleEndian.PutUint64(sym[symSize+8:], 0) // value
	binary.LittleEndian.PutUint64(sym[symSize+16:], uint64(len(text)))

	type sec struct {
		name                        uint32
		shType                      uint32
		flags, addr, offset, size   uint64
		link, info                  uint32
		addralign, entsize          uint64
		data                        []byte
	}

	var secs []sec
	secs = append(secs, sec{}) // SHT_NULL
	secs = append(secs, sec{name: strIndex(shstrtab, ".text"), shType: SHT_PROGBITS, flags: SHF_ALLOC | SHF_EXECINSTR, size: uint64(len(text)), addralign: 1, data: text})
	secs = append(secs, sec{name: strIndex(shstrtab, ".symtab"), shType: SHT_SYMTAB, link: 3, info: 1, entsize: symSize, size: uint64(len(sym)), addralign: 8, data: sym})
	secs = append(secs, sec{name: strIndex(shstrtab, ".strtab"), shType: SHT_STRTAB, size: uint64(len(strtab)), addralign: 1, data: strtab})
	secs = append(secs, sec{name: strIndex(shstrtab, ".shstrtab"), shType: SHT_STRTAB, size: uint64(len(shstrtab)), addralign: 1, data: shstrtab})

	// lay out section data after the ELF header, recording offsets
	cur := uint64(ehdrSize)
	var body bytes.Buffer
	for i := range secs {
		if secs[i].shType == SHT_NULL {
			continue
		}
		secs[i].offset = cur
		body.Write(secs[i].data)
		cur += uint64(len(secs[i].data))
	}
	shoff := cur

	var out bytes.Buffer
	out.Write(makeEhdr(shoff, uint16(len(secs)), 4))
	out.Write(body.Bytes())
	for _, s := range secs {
		var b [shdrSize]byte
		binary.LittleEndian.PutUint32(b[0:4], s.name)
		binary.LittleEndian.PutUint32(b[4:8], s.shType)
		binary.LittleEndian.PutUint64(b[8:16], s.flags)
		binary.LittleEndian.PutUint64(b[16:24], s.addr)
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

func makeEhdr(shoff uint64, shnum, shstrndx uint16) []byte {
	b := make([]byte, ehdrSize)
	copy(b[0:4], []byte{0x7f, 'E', 'L', 'F'})
	b[4] = 2 // ELFCLASS64
	b[5] = 1 // ELFDATA2LSB
	b[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(b[16:18], ET_REL)
	binary.LittleEndian.PutUint16(b[18:20], uint16(EM_X86_64))
	binary.LittleEndian.PutUint32(b[20:24], 1)
	binary.LittleEndian.PutUint64(b[40:48], shoff)
	binary.LittleEndian.PutUint16(b[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(b[58:60], shdrSize)
	binary.LittleEndian.PutUint16(b[60:62], shnum)
	binary.LittleEndian.PutUint16(b[62:64], shstrndx)
	return b
}

func buildStrtab(names ...string) []byte {
	var b bytes.Buffer
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(0)
	}
	return b.Bytes()
}

func strIndex(tab []byte, name string) uint32 {
	target := append([]byte(name), 0)
	i := bytes.Index(tab, target)
	if i < 0 {
		panic("name not in strtab: " + name)
	}
	return uint32(i)
}

func TestReadBytesMinimalObject(t *testing.T) {
	data := buildMinimalObject(t)

	obj, err := ReadBytes(data, "test.o")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if obj.Machine != EM_X86_64 {
		t.Fatalf("machine = %v, want x86-64", obj.Machine)
	}
	if len(obj.Sections) != 5 {
		t.Fatalf("len(Sections) = %d, want 5", len(obj.Sections))
	}
	if obj.Sections[1].Name != ".text" {
		t.Fatalf("Sections[1].Name = %q, want .text", obj.Sections[1].Name)
	}
	if !bytes.Equal(obj.Sections[1].Data, []byte{0x90, 0x90, 0xc3}) {
		t.Fatalf("Sections[1].Data = %v", obj.Sections[1].Data)
	}

	var start *Symbol
	for i := range obj.Symbols {
		if obj.Symbols[i].Name == "_start" {
			start = &obj.Symbols[i]
		}
	}
	if start == nil {
		t.Fatal("symbol _start not found")
	}
	if start.Bind != STB_GLOBAL || start.Type != STT_FUNC {
		t.Fatalf("_start bind/type = %d/%d", start.Bind, start.Type)
	}
	if start.Section != 1 {
		t.Fatalf("_start.Section = %d, want 1", start.Section)
	}
}

func TestReadBytesRejectsBadMagic(t *testing.T) {
	data := buildMinimalObject(t)
	data[0] = 0
	if _, err := ReadBytes(data, "bad.o"); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestReadBytesRejectsTruncated(t *testing.T) {
	if _, err := ReadBytes([]byte{0x7f, 'E', 'L', 'F'}, "short.o"); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadBytesRejectsNonRel(t *testing.T) {
	data := buildMinimalObject(t)
	binary.LittleEndian.PutUint16(data[16:18], ET_EXEC)
	if _, err := ReadBytes(data, "exec.o"); err == nil {
		t.Fatal("expected error for non ET_REL input")
	}
}

func TestReadBytesOutOfBoundsSection(t *testing.T) {
	data := buildMinimalObject(t)
	// corrupt the .text section's sh_size (section 1) to run past EOF.
	shoff := binary.LittleEndian.Uint64(data[40:48])
	secOff := shoff + shdrSize // section 1 header
	binary.LittleEndian.PutUint64(data[secOff+32:secOff+40], uint64(len(data))+1000)
	if _, err := ReadBytes(data, "oob.o"); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
