package workflow

import (
	"sort"
	"strings"

	"github.com/mmdatafocus/wotrack_backend/models"
)

// NormalizeHeaders resolves raw sheet headers to canonical names.
// The output has the same length and order as headers; unmatched headers pass through trimmed.
// mapping records raw header -> resolved name for every non-empty header.
func NormalizeHeaders(headers []string, aliases map[string][]string) (normalized []string, mapping map[string]string) {
	canonicals := make([]string, 0, len(aliases))
	for canonical := range aliases {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	lookup := make(map[string]string)
	for _, canonical := range canonicals {
		for _, v := range aliases[canonical] {
			key := foldHeader(v)
			if key == "" {
				continue
			}
			// alphabetically first canonical wins when two declare the same variant
			if _, taken := lookup[key]; !taken {
				lookup[key] = canonical
			}
		}
	}
	// a canonical name always resolves to itself, even if listed as another's variant
	for _, canonical := range canonicals {
		lookup[foldHeader(canonical)] = canonical
	}

	normalized = make([]string, len(headers))
	mapping = make(map[string]string, len(headers))
	for i, raw := range headers {
		trimmed := strings.TrimSpace(raw)
		resolved := trimmed
		if canonical, ok := lookup[foldHeader(trimmed)]; ok && trimmed != "" {
			resolved = canonical
		}
		normalized[i] = resolved
		if trimmed != "" {
			mapping[raw] = resolved
		}
	}
	return normalized, mapping
}

// RequireColumns fails with the list of required canonical columns absent from normalized.
// Names compare exactly, as rows are keyed by the normalized headers.
func RequireColumns(normalized []string, required []string) error {
	present := make(map[string]bool, len(normalized))
	for _, h := range normalized {
		present[h] = true
	}
	var missing []string
	for _, r := range required {
		if !present[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &models.MissingRequiredColumnsError{Missing: missing}
	}
	return nil
}

// DetectHeaders keeps the non-blank header cells a user would recognise as columns.
func DetectHeaders(headers []string) []string {
	var out []string
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" || strings.Contains(h, "null") || strings.Contains(strings.ToLower(h), "unnamed") {
			continue
		}
		out = append(out, h)
	}
	return out
}

func foldHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
