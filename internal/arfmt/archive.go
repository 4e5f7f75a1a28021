// Package arfmt implements the System V / BSD common archive format
// (spec component C2): "!<arch>\n" magic, 60-byte member headers, 2-byte
// alignment padding, and the GNU "//" long-name table.
package arfmt

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coldironforge/linker/internal/linkerr"
)

const (
	magic       = "!<arch>\n"
	headerSize  = 60
	longNameTag = "//"
)

// Member is one archive member: either freshly created (Data set, Offset
// unused) or read from an existing archive (Offset points at its header).
type Member struct {
	Name   string
	ModTime int64
	UID, GID int
	Mode   uint32
	Data   []byte
	Offset int64 // header offset within the archive, when read
}

// Archive is an in-memory view over archive bytes, kept whole so member
// extraction can slice directly into it without copying ("zero-copy"
// extraction referenced in spec §4.2 and §5).
type Archive struct {
	data    []byte
	Members []Member
}

// Open reads and validates the archive at path.
func Open(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, linkerr.Wrap(linkerr.IOError, err, "open archive").WithFile(path)
	}
	return OpenBytes(data, path)
}

// OpenBytes parses archive bytes already resident in memory (e.g. loaded
// once up front so extraction rounds can reuse the same buffer).
func OpenBytes(data []byte, path string) (*Archive, error) {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return nil, linkerr.New(linkerr.InvalidInput, "bad archive magic").WithFile(path)
	}

	a := &Archive{data: data}
	var longNames []byte

	off := int64(len(magic))
	for off+headerSize <= int64(len(data)) {
		hdr := data[off : off+headerSize]
		if hdr[58] != '`' || hdr[59] != '\n' {
			return nil, linkerr.New(linkerr.InvalidInput, "bad member header magic at offset %d", off).WithFile(path)
		}
		rawName := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, linkerr.Wrap(linkerr.InvalidInput, err, "bad member size %q", sizeStr).WithFile(path)
		}
		payloadOff := off + headerSize
		payloadEnd := payloadOff + size
		if size < 0 || payloadEnd > int64(len(data)) {
			return nil, linkerr.New(linkerr.InvalidInput, "member %q payload out of bounds", rawName).WithFile(path)
		}
		payload := data[payloadOff:payloadEnd]

		if rawName == longNameTag {
			longNames = payload
			off = nextMemberOffset(payloadOff, size)
			continue
		}

		name := resolveName(rawName, longNames)
		modTime, _ := strconv.ParseInt(strings.TrimSpace(string(hdr[16:28])), 10, 64)
		uid, _ := strconv.Atoi(strings.TrimSpace(string(hdr[28:34])))
		gid, _ := strconv.Atoi(strings.TrimSpace(string(hdr[34:40])))
		mode, _ := strconv.ParseUint(strings.TrimSpace(string(hdr[40:48])), 8, 32)

		a.Members = append(a.Members, Member{
			Name: name, ModTime: modTime, UID: uid, GID: gid, Mode: uint32(mode),
			Data: payload, Offset: off,
		})

		off = nextMemberOffset(payloadOff, size)
	}
	return a, nil
}

func nextMemberOffset(payloadOff, size int64) int64 {
	end := payloadOff + size
	if size%2 != 0 {
		end++ // 1-byte pad on odd-length payloads
	}
	return end
}

// resolveName expands a GNU long-name reference ("/<offset>") against the
// "//" table, or trims the BSD "/" terminator from a short name.
func resolveName(raw string, longNames []byte) string {
	if strings.HasPrefix(raw, "/") && len(raw) > 1 {
		if off, err := strconv.Atoi(raw[1:]); err == nil && off >= 0 && off < len(longNames) {
			end := off
			for end < len(longNames) && longNames[end] != '\n' && longNames[end] != '/' {
				end++
			}
			return string(longNames[off:end])
		}
	}
	return strings.TrimSuffix(raw, "/")
}

// List returns the member names in archive order.
func (a *Archive) List() []string {
	names := make([]string, len(a.Members))
	for i, m := range a.Members {
		names[i] = m.Name
	}
	return names
}

// Extract returns the payload of the named member, or an error if absent.
func (a *Archive) Extract(name string) ([]byte, error) {
	for _, m := range a.Members {
		if m.Name == name {
			return m.Data, nil
		}
	}
	return nil, linkerr.New(linkerr.InvalidInput, "no such member %q", name)
}

// ExtractAt returns the payload of the member whose header starts at
// offset, used by the lazy symbol-indexed extraction path (§4.2) to read
// a member directly without a second name lookup.
func (a *Archive) ExtractAt(offset int64) ([]byte, error) {
	for _, m := range a.Members {
		if m.Offset == offset {
			return m.Data, nil
		}
	}
	return nil, linkerr.New(linkerr.InvalidInput, "no member at offset %d", offset)
}

// Create serializes members into a new archive. Names longer than 16
// bytes are written through the GNU "//" long-name table rather than
// truncated (Open Question 3 — decided in DESIGN.md in favor of
// correctness over legacy BSD-ar byte-for-byte compatibility). Member
// mtime/uid/gid/mode are normalized to a canonical "clean" value so two
// archives built from the same inputs are byte-identical.
func Create(members []Member) []byte {
	var longNames bytes.Buffer
	type resolved struct {
		headerName string
		m          Member
	}
	rs := make([]resolved, len(members))
	for i, m := range members {
		name := m.Name
		if len(name)+1 > 16 { // +1 for the BSD "/" terminator
			off := longNames.Len()
			longNames.WriteString(name)
			longNames.WriteByte('\n')
			rs[i] = resolved{headerName: fmt.Sprintf("/%d", off), m: m}
		} else {
			rs[i] = resolved{headerName: name + "/", m: m}
		}
	}

	var out bytes.Buffer
	out.WriteString(magic)

	if longNames.Len() > 0 {
		writeMember(&out, longNameTag, 0, 0, 0, 0644, longNames.Bytes())
	}
	for _, r := range rs {
		writeMember(&out, r.headerName, 0, 0, 0, 0644, r.m.Data)
	}
	return out.Bytes()
}

func writeMember(out *bytes.Buffer, name string, mtime int64, uid, gid int, mode uint32, data []byte) {
	var hdr [headerSize]byte
	copy(hdr[0:16], padRight(name, 16))
	copy(hdr[16:28], padRight(strconv.FormatInt(mtime, 10), 12))
	copy(hdr[28:34], padRight(strconv.Itoa(uid), 6))
	copy(hdr[34:40], padRight(strconv.Itoa(gid), 6))
	copy(hdr[40:48], padRight(strconv.FormatUint(uint64(mode), 8), 8))
	copy(hdr[48:58], padRight(strconv.Itoa(len(data)), 10))
	hdr[58], hdr[59] = '`', '\n'
	out.Write(hdr[:])
	out.Write(data)
	if len(data)%2 != 0 {
		out.WriteByte('\n')
	}
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

// Delete returns a new archive with the named member removed, or an
// error if it isn't present. The caller is responsible for the
// write-to-temp-then-rename atomicity described in spec §4.2; Delete
// itself only computes the new archive bytes so that failure never
// touches the original file.
func Delete(a *Archive, name string) ([]byte, error) {
	found := false
	var members []Member
	for _, m := range a.Members {
		if m.Name == name {
			found = true
			continue
		}
		members = append(members, m)
	}
	if !found {
		return nil, linkerr.New(linkerr.InvalidInput, "no such member %q", name)
	}
	return Create(members), nil
}
