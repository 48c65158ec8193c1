package threatintel

import (
	"context"
	"errors"
	"testing"
)

type stubFetcher struct {
	indicators *Indicators
	err        error
	calls      int
}

func (s *stubFetcher) Fetch(ctx context.Context) (*Indicators, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.indicators, nil
}

func TestCacheLookupMissBeforeRefresh(t *testing.T) {
	c := New(&stubFetcher{indicators: emptyIndicators()})
	if _, hit := c.LookupSHA256("deadbeef"); hit {
		t.Fatal("expected no hit before any refresh")
	}
}

func TestCacheRefreshPopulatesSnapshot(t *testing.T) {
	ind := emptyIndicators()
	ind.SHA256["deadbeef"] = "trojan.generic"

	c := New(&stubFetcher{indicators: ind})
	c.refresh(context.Background())

	classification, hit := c.LookupSHA256("deadbeef")
	if !hit || classification != "trojan.generic" {
		t.Fatalf("LookupSHA256() = (%q, %v), want (trojan.generic, true)", classification, hit)
	}
}

func TestCacheRefreshFailureKeepsPriorSnapshot(t *testing.T) {
	ind := emptyIndicators()
	ind.SHA256["deadbeef"] = "trojan.generic"

	fetcher := &stubFetcher{indicators: ind}
	c := New(fetcher)
	c.refresh(context.Background())

	fetcher.err = errors.New("upstream unavailable")
	fetcher.indicators = nil
	c.refresh(context.Background())

	classification, hit := c.LookupSHA256("deadbeef")
	if !hit || classification != "trojan.generic" {
		t.Fatal("expected prior snapshot to survive a failed refresh")
	}
}
