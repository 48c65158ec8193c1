package staticanalysis

import (
	"context"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/cuemby/vigil/pkg/types"
)

const minStringRunLength = 6

// suspiciousSubstrings is the IOC table checked against extracted strings
// (spec.md §4.2 step 5). Matching is case-insensitive substring search.
var suspiciousSubstrings = []string{
	"cmd.exe /c",
	"powershell -enc",
	"powershell.exe -w hidden",
	"vssadmin delete shadows",
	"bcdedit /set",
	"wbadmin delete",
	"reg add",
	"schtasks /create",
	"curl -s http",
	"wget http",
	"invoke-webrequest",
	"base64 -d",
	"/etc/passwd",
	"rm -rf /",
	"bitcoin",
	"wallet.dat",
	"your files have been encrypted",
	"decrypt your files",
	"tor2web",
	".onion",
	"ransom",
	"ransomware",
	"c2server",
	"mimikatz",
	"meterpreter",
}

// stringsStrategy extracts ASCII and UTF-16LE printable runs of length >= 6
// and classifies them against a suspicious-substring table (spec.md §4.2
// step 5).
type stringsStrategy struct{}

func (stringsStrategy) Name() string { return "strings" }

func (stringsStrategy) Analyze(_ context.Context, acc *Accumulator, data []byte) error {
	found := extractASCIIStrings(data)
	found = append(found, extractUTF16LEStrings(data)...)
	acc.Strings = found

	now := time.Now().UTC()
	lowerIOCs := make([]string, len(suspiciousSubstrings))
	for i, s := range suspiciousSubstrings {
		lowerIOCs[i] = strings.ToLower(s)
	}

	for _, s := range found {
		lower := strings.ToLower(s)
		for i, ioc := range lowerIOCs {
			if strings.Contains(lower, ioc) {
				acc.SuspiciousStrings = append(acc.SuspiciousStrings, types.Finding{
					Kind:       "suspicious_string",
					Name:       suspiciousSubstrings[i],
					Detail:     s,
					ScoreDelta: 5,
					ObservedAt: now,
				})
				break
			}
		}
	}
	return nil
}

func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

func extractASCIIStrings(data []byte) []string {
	var out []string
	start := -1
	for i, b := range data {
		if isPrintableASCII(b) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minStringRunLength {
				out = append(out, string(data[start:i]))
			}
			start = -1
		}
	}
	if start >= 0 && len(data)-start >= minStringRunLength {
		out = append(out, string(data[start:]))
	}
	return out
}

func extractUTF16LEStrings(data []byte) []string {
	var out []string
	var run []uint16
	flush := func() {
		if len(run) >= minStringRunLength {
			out = append(out, string(utf16.Decode(run)))
		}
		run = nil
	}

	for i := 0; i+1 < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		if hi == 0 && isPrintableASCII(lo) {
			run = append(run, uint16(lo))
			continue
		}
		flush()
	}
	flush()
	return out
}
