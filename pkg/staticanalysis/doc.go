/*
Package staticanalysis implements C5 (spec.md §4.2): a fixed pipeline of
analyzers runs over an artifact's bytes and produces a StaticReport plus
a capped-sum static_score.

Strategies follow the tagged-strategy shape spec.md §9 calls for instead
of a class hierarchy:

	type Strategy interface {
		Name() string
		Analyze(ctx context.Context, acc *Accumulator, data []byte) error
	}

Engine runs a fixed, ordered slice of Strategy values, generalizing
warren's per-bucket BoltDB operation handlers (one function per concern,
dispatched in sequence) into one analyzer per static-analysis concern.
*/
package staticanalysis
