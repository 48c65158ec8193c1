package patternscan

import (
	"context"
	"testing"
)

func TestScanMatchesByteNeedle(t *testing.T) {
	rs := &RuleSet{rules: []Rule{
		{Name: "eicar-marker", Kind: "bytes", Pattern: "EICAR", Weight: 30, byteNeedle: []byte("EICAR")},
	}}

	matches, partial := Scan(context.Background(), rs, []byte("prefix EICAR suffix"))
	if partial {
		t.Fatal("expected non-partial scan")
	}
	if len(matches) != 1 || matches[0].RuleName != "eicar-marker" {
		t.Fatalf("Scan() matches = %v, want one eicar-marker match", matches)
	}
}

func TestScanNoMatch(t *testing.T) {
	rs := &RuleSet{rules: []Rule{
		{Name: "marker", Kind: "bytes", Pattern: "NEEDLE", Weight: 10, byteNeedle: []byte("NEEDLE")},
	}}

	matches, _ := Scan(context.Background(), rs, []byte("nothing interesting here"))
	if len(matches) != 0 {
		t.Fatalf("Scan() matches = %v, want none", matches)
	}
}

func TestScanCancelledContextYieldsPartial(t *testing.T) {
	rs := &RuleSet{rules: []Rule{
		{Name: "marker", Kind: "bytes", Pattern: "NEEDLE", Weight: 10, byteNeedle: []byte("NEEDLE")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, partial := Scan(ctx, rs, []byte("NEEDLE"))
	if !partial {
		t.Fatal("expected partial result for a cancelled context")
	}
}
