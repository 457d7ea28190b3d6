package id

import (
	"regexp"
	"strconv"
	"testing"
	"time"
)

var batchIDPattern = regexp.MustCompile(`^batch-(\d+)-([0-9a-f]{8})$`)

func TestGenerate_Format(t *testing.T) {
	before := time.Now().Unix()
	got := Generate()
	after := time.Now().Unix()

	m := batchIDPattern.FindStringSubmatch(got)
	if m == nil {
		t.Fatalf("Generate() = %q, want batch-<unix>-<8 hex>", got)
	}
	ts, _ := strconv.ParseInt(m[1], 10, 64)
	if ts < before || ts > after {
		t.Errorf("timestamp %d outside [%d, %d]", ts, before, after)
	}
}

func TestGenerate_Distinct(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		got := Generate()
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate batch ID %s", got)
		}
		seen[got] = struct{}{}
	}
}
