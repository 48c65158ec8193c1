/*
Package verdict implements the verdict synthesizer (C8, spec.md §4.4): it
is level-triggered, querying the store for current reports rather than
trusting bus message payloads, and produces a Verdict whose evidence is
reproducible byte-for-byte given the same reports (spec.md §8 round-trip
law).
*/
package verdict
