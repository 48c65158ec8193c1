package ingest

import "bytes"

var (
	magicPE     = []byte("MZ")
	magicELF    = []byte{0x7f, 'E', 'L', 'F'}
	magicMachO1 = []byte{0xfe, 0xed, 0xfa, 0xce} // 32-bit big endian
	magicMachO2 = []byte{0xfe, 0xed, 0xfa, 0xcf} // 64-bit big endian
	magicMachO3 = []byte{0xce, 0xfa, 0xed, 0xfe} // 32-bit little endian
	magicMachO4 = []byte{0xcf, 0xfa, 0xed, 0xfe} // 64-bit little endian
	magicZip    = []byte("PK\x03\x04")
)

// SniffFileType inspects the first bytes of an upload and classifies it
// by magic number, independent of any client-declared MIME type (spec.md
// §4.1 step 3).
func SniffFileType(head []byte) SniffedType {
	switch {
	case bytes.HasPrefix(head, magicPE):
		return SniffedType{Kind: "pe", Executable: true}
	case bytes.HasPrefix(head, magicELF):
		return SniffedType{Kind: "elf", Executable: true}
	case bytes.HasPrefix(head, magicMachO1), bytes.HasPrefix(head, magicMachO2),
		bytes.HasPrefix(head, magicMachO3), bytes.HasPrefix(head, magicMachO4):
		return SniffedType{Kind: "macho", Executable: true}
	case bytes.HasPrefix(head, magicZip):
		return SniffedType{Kind: "zip", Executable: false}
	default:
		return SniffedType{Kind: "unknown", Executable: false}
	}
}

// SniffedType is the magic-byte classification result.
type SniffedType struct {
	Kind       string
	Executable bool
}

// executableMIMEPrefixes are client-declared MIME types that are
// consistent with an executable payload; anything else alongside a
// sniffed executable kind is treated as masquerading (spec.md §4.1 step
// 3: "reject if declared MIME disagrees in a security-relevant way").
var executableMIMEPrefixes = []string{
	"application/x-msdownload",
	"application/x-executable",
	"application/x-elf",
	"application/x-mach-binary",
	"application/octet-stream",
	"application/vnd.microsoft.portable-executable",
}

// Masquerades reports whether declaredMIME is inconsistent with a sniffed
// executable payload — e.g. an EXE uploaded as "image/png".
func Masquerades(sniffed SniffedType, declaredMIME string) bool {
	if !sniffed.Executable {
		return false
	}
	for _, prefix := range executableMIMEPrefixes {
		if declaredMIME == prefix {
			return false
		}
	}
	return true
}
