package ingest

import "testing"

func TestSniffFileType(t *testing.T) {
	tests := []struct {
		name           string
		head           []byte
		wantKind       string
		wantExecutable bool
	}{
		{"PE", []byte("MZ\x90\x00\x03\x00\x00\x00"), "pe", true},
		{"ELF", []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, "elf", true},
		{"Mach-O 32-bit big endian", []byte{0xfe, 0xed, 0xfa, 0xce}, "macho", true},
		{"Mach-O 64-bit big endian", []byte{0xfe, 0xed, 0xfa, 0xcf}, "macho", true},
		{"Mach-O 32-bit little endian", []byte{0xce, 0xfa, 0xed, 0xfe}, "macho", true},
		{"Mach-O 64-bit little endian", []byte{0xcf, 0xfa, 0xed, 0xfe}, "macho", true},
		{"zip", []byte("PK\x03\x04"), "zip", false},
		{"unknown", []byte("not a real binary"), "unknown", false},
		{"empty", []byte{}, "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SniffFileType(tt.head)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Executable != tt.wantExecutable {
				t.Errorf("Executable = %v, want %v", got.Executable, tt.wantExecutable)
			}
		})
	}
}

func TestMasquerades_NonExecutableNeverMasquerades(t *testing.T) {
	sniffed := SniffedType{Kind: "zip", Executable: false}
	if Masquerades(sniffed, "image/png") {
		t.Error("a non-executable sniff should never be reported as masquerading")
	}
}

func TestMasquerades_ConsistentMIME(t *testing.T) {
	sniffed := SniffedType{Kind: "pe", Executable: true}
	consistent := []string{
		"application/x-msdownload",
		"application/x-executable",
		"application/x-elf",
		"application/x-mach-binary",
		"application/octet-stream",
		"application/vnd.microsoft.portable-executable",
	}
	for _, mime := range consistent {
		if Masquerades(sniffed, mime) {
			t.Errorf("declared MIME %q should be consistent with an executable sniff", mime)
		}
	}
}

func TestMasquerades_DisguisedExecutable(t *testing.T) {
	sniffed := SniffedType{Kind: "pe", Executable: true}
	if !Masquerades(sniffed, "image/png") {
		t.Error("expected an EXE declared as image/png to be flagged as masquerading")
	}
}
