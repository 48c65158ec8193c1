package staticanalysis

import (
	"context"
	"strings"
)

// standardSectionNames are names common to legitimately compiled binaries
// across PE/ELF/Mach-O; anything else is flagged unusual (spec.md §4.2
// step 3).
var standardSectionNames = map[string]bool{
	".text": true, ".data": true, ".rdata": true, ".rsrc": true, ".reloc": true,
	".bss": true, ".idata": true, ".edata": true, ".pdata": true, ".tls": true,
	".rodata": true, ".init": true, ".fini": true, ".plt": true, ".got": true,
	".dynamic": true, ".dynsym": true, ".dynstr": true, ".symtab": true, ".strtab": true,
	"__text": true, "__data": true, "__const": true, "__cstring": true, "__bss": true,
}

// importsSectionsStrategy annotates the sections formatParseStrategy
// already populated with the "unusual name" flag (spec.md §4.2 step 3).
// Writable+executable sections are already present on SectionInfo from
// parsing and are scored directly in Score, without needing a flag here.
type importsSectionsStrategy struct{}

func (importsSectionsStrategy) Name() string { return "imports_sections" }

func (importsSectionsStrategy) Analyze(_ context.Context, acc *Accumulator, _ []byte) error {
	for i := range acc.Sections {
		name := strings.ToLower(strings.TrimSpace(acc.Sections[i].Name))
		acc.Sections[i].UnusualName = name != "" && !standardSectionNames[name]
	}
	return nil
}
