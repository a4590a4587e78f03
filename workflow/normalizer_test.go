package workflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mmdatafocus/wotrack_backend/models"
)

func TestNormalizeHeaders(t *testing.T) {
	aliases := map[string][]string{
		"WO ID": {"Work Order", "WO No."},
		"PN":    {"Part Number"},
	}
	headers := []string{" work order ", "Part Number", "Assembly", "", "pn"}

	normalized, mapping := NormalizeHeaders(headers, aliases)

	want := []string{"WO ID", "PN", "Assembly", "", "PN"}
	if !reflect.DeepEqual(normalized, want) {
		t.Fatalf("normalized=%q, want %q", normalized, want)
	}
	if mapping[" work order "] != "WO ID" || mapping["Assembly"] != "Assembly" {
		t.Fatalf("mapping=%v", mapping)
	}
	if _, ok := mapping[""]; ok {
		t.Fatalf("blank header should not be mapped")
	}
}

func TestNormalizeHeadersConflictingAliases(t *testing.T) {
	aliases := map[string][]string{
		"Qty":      {"Amount"},
		"Customer": {"Amount", "Qty"},
	}
	normalized, _ := NormalizeHeaders([]string{"amount", "qty"}, aliases)
	// Customer sorts first, but a canonical name always maps to itself.
	if normalized[0] != "Customer" || normalized[1] != "Qty" {
		t.Fatalf("normalized=%q", normalized)
	}
}

func TestNormalizeHeadersIsDeterministic(t *testing.T) {
	aliases := map[string][]string{"A": {"x"}, "B": {"x"}, "C": {"x"}}
	for i := 0; i < 20; i++ {
		normalized, _ := NormalizeHeaders([]string{"X"}, aliases)
		if normalized[0] != "A" {
			t.Fatalf("run %d resolved to %q", i, normalized[0])
		}
	}
}

func TestRequireColumns(t *testing.T) {
	if err := RequireColumns([]string{"WO ID", "PN"}, []string{"WO ID", "PN"}); err != nil {
		t.Fatalf("RequireColumns: %v", err)
	}
	// an unresolved header does not satisfy the canonical column rows are keyed by
	var unresolved *models.MissingRequiredColumnsError
	if err := RequireColumns([]string{"wo id", "PN"}, []string{"WO ID", "PN"}); !errors.As(err, &unresolved) || unresolved.Missing[0] != "WO ID" {
		t.Fatalf("unresolved header err=%v", err)
	}
	err := RequireColumns([]string{"PN", "Cut"}, []string{"WO ID", "PN", "Description"})
	var missing *models.MissingRequiredColumnsError
	if !errors.As(err, &missing) {
		t.Fatalf("err=%v", err)
	}
	if !reflect.DeepEqual(missing.Missing, []string{"WO ID", "Description"}) {
		t.Fatalf("missing=%v", missing.Missing)
	}
}

func TestDetectHeaders(t *testing.T) {
	got := DetectHeaders([]string{"WO ID", " ", "Unnamed: 3", "null", "Cut "})
	if !reflect.DeepEqual(got, []string{"WO ID", "Cut"}) {
		t.Fatalf("DetectHeaders=%q", got)
	}
}
