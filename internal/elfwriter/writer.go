// Package elfwriter implements the ELF executable writer (spec
// component C8): materializing program headers from the laid-out merged
// sections and writing a loadable ET_EXEC image with no section headers.
package elfwriter

import (
	"encoding/binary"
	"os"

	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/layout"
	"github.com/coldironforge/linker/internal/linkerr"
)

const (
	ehdrSize = 64
	phdrSize = 56
	pageSize = 4096

	ptLoad = 1
	pfX    = 1
	pfW    = 2
	pfR    = 4
)

// Write emits the ET_EXEC image to path with at most two PT_LOAD
// segments (spec §4.8). Sections are split into two segments at the
// first section named .data: everything before it — .text, .rodata,
// and .got/.plt if pass 2 synthesised them right after .text — forms
// the first segment, and .data with everything after it (.bss and any
// other sections) forms the second. When a
// writable section (.got) lands in the first segment, that segment is
// marked PF_R|PF_W|PF_X rather than splitting it further, since the
// image is capped at two PT_LOAD entries; this is a deliberate, narrow
// relaxation of strict W^X for the GOT/PLT region only.
// chmod failure after a successful write is reported but not fatal;
// everything else is.
func Write(path string, sections []*layout.MergedSection, machine elfobj.Machine, entry uint64) error {
	segs := partitionSegments(sections)
	if len(segs) == 0 {
		return linkerr.New(linkerr.MissingEntry, "no loadable segments to write")
	}

	var phdrs []phdr
	var body []byte
	fileOff := alignUp(ehdrSize, pageSize)

	hdrLen := uint64(ehdrSize + len(segs)*phdrSize)
	for _, seg := range segs {
		segOff := fileOff
		if pad := segOff - (hdrLen + uint64(len(body))); pad > 0 {
			body = append(body, make([]byte, pad)...)
		}
		segStart := len(body)
		cursor := seg.vma
		var fileSize uint64
		for _, s := range seg.sections {
			if s.Name != ".bss" {
				if pad := s.VMA - (seg.vma + uint64(len(body)-segStart)); pad > 0 {
					body = append(body, make([]byte, pad)...)
				}
				body = append(body, s.Data...)
				fileSize = uint64(len(body) - segStart)
			}
			cursor = s.VMA + s.Size
		}
		memSize := cursor - seg.vma
		phdrs = append(phdrs, phdr{typ: ptLoad, flags: seg.flags, offset: segOff, vaddr: seg.vma, filesz: fileSize, memsz: memSize, align: pageSize})
		fileOff = alignUp(segOff+uint64(len(body)-segStart), pageSize)
	}

	ehdr := buildEhdr(machine, entry, len(phdrs))
	out := make([]byte, 0, ehdrSize+len(phdrs)*phdrSize+len(body))
	out = append(out, ehdr...)
	for _, p := range phdrs {
		out = append(out, p.encode()...)
	}
	out = append(out, body...)

	if err := os.WriteFile(path, out, 0644); err != nil {
		return linkerr.Wrap(linkerr.IOError, err, "write executable").WithFile(path)
	}
	if err := os.Chmod(path, 0755); err != nil {
		return linkerr.Wrap(linkerr.IOError, err, "chmod executable (non-fatal, but reported)").WithFile(path)
	}
	return nil
}

type segment struct {
	vma      uint64
	flags    uint32
	sections []*layout.MergedSection
}

// partitionSegments splits sections at the first ".data" section into at
// most two contiguous-address groups, each becoming one PT_LOAD.
func partitionSegments(sections []*layout.MergedSection) []*segment {
	if len(sections) == 0 {
		return nil
	}
	splitAt := len(sections)
	for i, s := range sections {
		if s.Name == ".data" {
			splitAt = i
			break
		}
	}
	if splitAt == 0 {
		splitAt = 1 // always keep .text (or whatever leads) in the first segment
	}

	var segs []*segment
	for _, group := range [][]*layout.MergedSection{sections[:splitAt], sections[splitAt:]} {
		if len(group) == 0 {
			continue
		}
		seg := &segment{vma: group[0].VMA, sections: group}
		for _, s := range group {
			if s.Flags&elfobj.SHF_EXECINSTR != 0 {
				seg.flags |= pfX
			}
			if s.Flags&elfobj.SHF_WRITE != 0 {
				seg.flags |= pfW
			}
			seg.flags |= pfR
		}
		segs = append(segs, seg)
	}
	return segs
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

type phdr struct {
	typ, flags                          uint32
	offset, vaddr, filesz, memsz, align uint64
}

func (p phdr) encode() []byte {
	b := make([]byte, phdrSize)
	bo := binary.LittleEndian
	bo.PutUint32(b[0:4], p.typ)
	bo.PutUint32(b[4:8], p.flags)
	bo.PutUint64(b[8:16], p.offset)
	bo.PutUint64(b[16:24], p.vaddr)
	bo.PutUint64(b[24:32], p.vaddr) // paddr == vaddr, no physical-memory distinction
	bo.PutUint64(b[32:40], p.filesz)
	bo.PutUint64(b[40:48], p.memsz)
	bo.PutUint64(b[48:56], p.align)
	return b
}

func buildEhdr(machine elfobj.Machine, entry uint64, phnum int) []byte {
	b := make([]byte, ehdrSize)
	copy(b[0:4], []byte{0x7f, 'E', 'L', 'F'})
	b[4] = 2 // ELFCLASS64
	b[5] = 1 // ELFDATA2LSB
	b[6] = 1 // EV_CURRENT
	b[7] = 0 // ELFOSABI_SYSV

	bo := binary.LittleEndian
	bo.PutUint16(b[16:18], elfobj.ET_EXEC)
	bo.PutUint16(b[18:20], uint16(machine))
	bo.PutUint32(b[20:24], 1) // e_version
	bo.PutUint64(b[24:32], entry)
	bo.PutUint64(b[32:40], ehdrSize) // e_phoff
	bo.PutUint64(b[40:48], 0)        // e_shoff: none in the output image
	bo.PutUint32(b[48:52], 0)        // e_flags
	bo.PutUint16(b[52:54], ehdrSize)
	bo.PutUint16(b[54:56], phdrSize)
	bo.PutUint16(b[56:58], uint16(phnum))
	bo.PutUint16(b[58:60], 0) // e_shentsize
	bo.PutUint16(b[60:62], 0) // e_shnum
	bo.PutUint16(b[62:64], 0) // e_shstrndx
	return b
}
