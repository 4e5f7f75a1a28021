package arfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestCreateListExtractRoundTrip(t *testing.T) {
	members := []Member{
		{Name: "a.o", Data: []byte("hello")}, // odd length, exercises padding
		{Name: "b.o", Data: []byte("world!")},
	}
	raw := Create(members)

	a, err := OpenBytes(raw, "test.a")
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}

	names := a.List()
	if len(names) != 2 || names[0] != "a.o" || names[1] != "b.o" {
		t.Fatalf("List() = %v", names)
	}

	for _, m := range members {
		got, err := a.Extract(m.Name)
		if err != nil {
			t.Fatalf("Extract(%q): %v", m.Name, err)
		}
		if !bytes.Equal(got, m.Data) {
			t.Fatalf("Extract(%q) = %q, want %q", m.Name, got, m.Data)
		}
	}
}

func TestCreateLongNameTable(t *testing.T) {
	longName := strings.Repeat("x", 40) + ".o"
	raw := Create([]Member{{Name: longName, Data: []byte("payload")}})

	a, err := OpenBytes(raw, "long.a")
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	if len(a.Members) != 1 {
		t.Fatalf("len(Members) = %d, want 1", len(a.Members))
	}
	if a.Members[0].Name != longName {
		t.Fatalf("Members[0].Name = %q, want %q", a.Members[0].Name, longName)
	}
}

func TestDeleteMember(t *testing.T) {
	raw := Create([]Member{
		{Name: "a.o", Data: []byte("A")},
		{Name: "b.o", Data: []byte("B")},
	})
	a, err := OpenBytes(raw, "test.a")
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	newRaw, err := Delete(a, "a.o")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	a2, err := OpenBytes(newRaw, "test2.a")
	if err != nil {
		t.Fatalf("OpenBytes after delete: %v", err)
	}
	if len(a2.Members) != 1 || a2.Members[0].Name != "b.o" {
		t.Fatalf("Members after delete = %v", a2.List())
	}
}

func TestDeleteMissingMember(t *testing.T) {
	raw := Create([]Member{{Name: "a.o", Data: []byte("A")}})
	a, _ := OpenBytes(raw, "test.a")
	if _, err := Delete(a, "missing.o"); err == nil {
		t.Fatal("expected error deleting missing member")
	}
}

func TestOpenBytesRejectsBadMagic(t *testing.T) {
	if _, err := OpenBytes([]byte("not an archive"), "bad.a"); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
