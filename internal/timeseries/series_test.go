package timeseries

import (
	"reflect"
	"testing"
)

func TestParseFormatRoundTrip(t *testing.T) {
	series := Parse("100,200, 300")
	if !reflect.DeepEqual(series, Series{100, 200, 300}) {
		t.Fatalf("unexpected series %v", series)
	}
	if got := series.Format(); got != "100,200,300" {
		t.Fatalf("format = %q", got)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, input := range []string{"", "  ", "\n"} {
		series := Parse(input)
		if len(series) != 0 {
			t.Fatalf("expected empty series for %q, got %v", input, series)
		}
	}
	if got := (Series{}).Format(); got != "" {
		t.Fatalf("empty format = %q", got)
	}
}

func TestParseDropsMalformedTokens(t *testing.T) {
	series := Parse("100,abc,,200,1.5")
	if !reflect.DeepEqual(series, Series{100, 200}) {
		t.Fatalf("unexpected series %v", series)
	}
}

func TestSinceKeepsPointsAtCutoff(t *testing.T) {
	series := Series{10, 20, 30, 40}
	got := series.Since(20)
	if !reflect.DeepEqual(got, Series{20, 30, 40}) {
		t.Fatalf("since(20) = %v", got)
	}
	if n := series.CountSince(20); n != 3 {
		t.Fatalf("count since 20 = %d", n)
	}
	if n := series.CountSince(41); n != 0 {
		t.Fatalf("count since 41 = %d", n)
	}
	got[0] = 99
	if series[1] != 20 {
		t.Fatalf("since result aliases source")
	}
}

func TestSinceSlicesAtFirstMatch(t *testing.T) {
	series := Series{10, 30, 20, 40}
	if got := series.Since(25); !reflect.DeepEqual(got, Series{30, 20, 40}) {
		t.Fatalf("since(25) = %v", got)
	}
}

func TestMergeSkipsOverlap(t *testing.T) {
	stored := Series{10, 20}
	merged := stored.Merge(Series{15, 20, 25, 30})
	if !reflect.DeepEqual(merged, Series{10, 20, 25, 30}) {
		t.Fatalf("merge = %v", merged)
	}
	fresh := Series{}.Merge(Series{1, 2})
	if !reflect.DeepEqual(fresh, Series{1, 2}) {
		t.Fatalf("merge into empty = %v", fresh)
	}
}

func TestMergeCountsEventsInLastSecond(t *testing.T) {
	stored := Series{10, 20, 20}
	merged := stored.Merge(Series{20, 20, 20, 25})
	if !reflect.DeepEqual(merged, Series{10, 20, 20, 20, 25}) {
		t.Fatalf("merge = %v", merged)
	}
	same := stored.Merge(Series{20, 20})
	if !reflect.DeepEqual(same, Series{10, 20, 20}) {
		t.Fatalf("merge of already held second = %v", same)
	}
}

func TestFirstLast(t *testing.T) {
	if _, ok := (Series{}).First(); ok {
		t.Fatalf("expected no first point")
	}
	series := Series{5, 7}
	first, _ := series.First()
	last, _ := series.Last()
	if first != 5 || last != 7 {
		t.Fatalf("first/last = %d/%d", first, last)
	}
}
