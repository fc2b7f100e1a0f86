package jobs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

const primerFile = `>Primer_1_PRIMER_LEFT
ACGTACGTACGTACGT
>Primer_1_PRIMER_RIGHT
TTGGCCAATTGGCCAA
>Primer_1_PRIMER_INTERNAL
GGGGCCCCAAAATTTT
`

func TestExtractPrimerSet(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Primer_1.txt", primerFile)
	ps, err := ExtractPrimerSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Forward != "ACGTACGTACGTACGT" {
		t.Fatalf("forward: %q", ps.Forward)
	}
	if ps.Reverse != "TTGGCCAATTGGCCAA" {
		t.Fatalf("reverse: %q", ps.Reverse)
	}
	if ps.Internal != "GGGGCCCCAAAATTTT" {
		t.Fatalf("internal: %q", ps.Internal)
	}
}

func TestExtractPrimerSetMissingHeader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.txt", ">Primer_1_PRIMER_LEFT\nACGT\n")
	if _, err := ExtractPrimerSet(path); err == nil {
		t.Fatal("expected error for missing headers")
	}
}

func TestCheckDirs(t *testing.T) {
	dir := t.TempDir()
	if err := CheckDirs(dir); err == nil {
		t.Fatal("expected error for empty dir")
	}
	writeFile(t, dir, "a.fasta", ">x\nACGT\n")
	if err := CheckDirs(dir); err != nil {
		t.Fatal(err)
	}
	if err := CheckDirs(filepath.Join(dir, "nope")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}
