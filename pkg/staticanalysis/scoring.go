package staticanalysis

// Score implements the capped-sum static_score formula (spec.md §4.2 step
// 8, verbatim): pattern matches 30/ea capped at 40, intel hits 40/ea
// capped at 50, suspicious strings 5/ea capped at 20, packed sections
// 10/ea capped at 15, suspicious section flags 15/ea capped at 20 (a
// section counts if its name is unusual or it is simultaneously writable
// and executable, a packer/self-modifying-code indicator). Final
// static_score = min(100, sum of the capped contributions).
func Score(acc *Accumulator) int {
	patternScore := capAt(len(acc.YaraMatches)*30, 40)
	intelScore := capAt(len(acc.ThreatIntelHits)*40, 50)
	stringScore := capAt(len(acc.SuspiciousStrings)*5, 20)

	packedCount := 0
	suspiciousFlagCount := 0
	for _, s := range acc.Sections {
		if s.PackedBySentropy {
			packedCount++
		}
		if s.UnusualName || (s.Writable && s.Executable) {
			suspiciousFlagCount++
		}
	}
	packedScore := capAt(packedCount*10, 15)
	unusualScore := capAt(suspiciousFlagCount*15, 20)

	total := patternScore + intelScore + stringScore + packedScore + unusualScore
	if total > 100 {
		total = 100
	}
	return total
}

func capAt(value, ceiling int) int {
	if value > ceiling {
		return ceiling
	}
	return value
}
