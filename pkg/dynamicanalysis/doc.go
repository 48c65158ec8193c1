/*
Package dynamicanalysis implements C7 (spec.md §4.3): it consumes the
sandbox's observation event stream for one execution and produces a
BehavioralReport with a capped-sum behavioral_score.

Heuristics and the scoring formula are spec.md §4.3 verbatim; the event
accumulation shape (one pass over a stream, building up typed finding
buckets) follows the teacher's ingest pipeline stage pattern.
*/
package dynamicanalysis
