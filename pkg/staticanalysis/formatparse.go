package staticanalysis

import (
	"bytes"
	"context"
	"debug/elf"
	"debug/macho"
	"fmt"

	"github.com/saferwall/pe"

	"github.com/cuemby/vigil/pkg/types"
)

// formatParseStrategy attempts PE, then ELF, then Mach-O in order,
// recording the first successful classification (spec.md §4.2 step 2).
// Parse errors are diagnostics, not failures: analysis continues on
// whatever could be recovered.
type formatParseStrategy struct{}

func (formatParseStrategy) Name() string { return "format_parse" }

func (formatParseStrategy) Analyze(_ context.Context, acc *Accumulator, data []byte) error {
	if sections, imports, ok := tryPE(data); ok {
		acc.FileType = types.FileTypePE
		acc.Sections = append(acc.Sections, sections...)
		acc.Imports = append(acc.Imports, imports...)
		return nil
	}
	if sections, ok := tryELF(data); ok {
		acc.FileType = types.FileTypeELF
		acc.Sections = append(acc.Sections, sections...)
		return nil
	}
	if sections, ok := tryMachO(data); ok {
		acc.FileType = types.FileTypeMachO
		acc.Sections = append(acc.Sections, sections...)
		return nil
	}
	acc.FileType = types.FileTypeUnknown
	acc.ParseDiagnostic = "no known executable format recognized"
	return nil
}

func tryPE(data []byte) ([]types.SectionInfo, []string, bool) {
	file, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		return nil, nil, false
	}
	if err := file.Parse(); err != nil {
		return nil, nil, false
	}
	defer file.CloseFile()

	sections := make([]types.SectionInfo, 0, len(file.Sections))
	for _, s := range file.Sections {
		name := sectionName(s.Header.Name[:])
		sections = append(sections, types.SectionInfo{
			Name:       name,
			Size:       uint64(s.Header.VirtualSize),
			Writable:   s.Header.Characteristics&pe.ImageScnMemWrite != 0,
			Executable: s.Header.Characteristics&pe.ImageScnMemExecute != 0,
		})
	}

	var imports []string
	for _, imp := range file.Imports {
		for _, fn := range imp.Functions {
			imports = append(imports, fmt.Sprintf("%s!%s", imp.Name, fn.Name))
		}
	}

	return sections, imports, true
}

func sectionName(raw []byte) string {
	n := bytes.IndexByte(raw, 0)
	if n < 0 {
		n = len(raw)
	}
	return string(raw[:n])
}

func tryELF(data []byte) ([]types.SectionInfo, bool) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	sections := make([]types.SectionInfo, 0, len(f.Sections))
	for _, s := range f.Sections {
		sections = append(sections, types.SectionInfo{
			Name:       s.Name,
			Size:       uint64(s.Size),
			Writable:   s.Flags&elf.SHF_WRITE != 0,
			Executable: s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	return sections, true
}

func tryMachO(data []byte) ([]types.SectionInfo, bool) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	// stdlib debug/macho exposes no per-section protection flags; Mach-O
	// segment-level VM protection (where writable/executable actually
	// live) isn't surfaced by the package, so those fields are left at
	// their zero value here.
	sections := make([]types.SectionInfo, 0, len(f.Sections))
	for _, s := range f.Sections {
		sections = append(sections, types.SectionInfo{
			Name: s.Name,
			Size: uint64(s.Size),
		})
	}
	return sections, true
}
