package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/utils"
)

// CellValue is one cell of the sheet grid. Number is meaningful only when IsNumber is set.
type CellValue struct {
	Text     string
	Number   float64
	IsNumber bool
}

func TextCell(s string) CellValue {
	return CellValue{Text: s}
}

func NumberCell(v float64) CellValue {
	return CellValue{Text: strconv.FormatFloat(v, 'f', -1, 64), Number: v, IsNumber: true}
}

// CoerceCell turns numeric date serials into display strings and everything else into trimmed text.
func CoerceCell(c CellValue) string {
	if c.IsNumber {
		if display, ok := models.SerialToDisplay(c.Number); ok {
			return display
		}
		if strings.TrimSpace(c.Text) == "" {
			return strconv.FormatFloat(c.Number, 'f', -1, 64)
		}
	}
	return strings.TrimSpace(c.Text)
}

// CoerceRow pairs cells with the normalized headers. Blank headers are dropped; when two
// headers resolve to the same name the first non-empty value is kept.
func CoerceRow(headers []string, cells []CellValue) map[string]string {
	row := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		var v string
		if i < len(cells) {
			v = CoerceCell(cells[i])
		}
		if cur, ok := row[h]; ok && cur != "" {
			continue
		}
		row[h] = v
	}
	return row
}

var patternCache sync.Map

func compiledPattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// ValidateRow checks coerced values against rules. Columns are visited in name order so the
// error list is stable. rowNumber is the 1-based sheet row used in error reports.
func ValidateRow(rowNumber int, row map[string]string, rules map[string]models.ValidationRule) []models.ValidationError {
	if len(rules) == 0 {
		return nil
	}
	folded := make(map[string]string, len(row))
	for k, v := range row {
		folded[foldHeader(k)] = v
	}
	columns := make([]string, 0, len(rules))
	for c := range rules {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	var errs []models.ValidationError
	for _, column := range columns {
		rule := rules[column]
		value := strings.TrimSpace(folded[foldHeader(column)])
		if msg := checkRule(rule, value); msg != "" {
			if rule.Message != "" {
				msg = rule.Message
			}
			errs = append(errs, models.ValidationError{Row: rowNumber, Column: column, Message: msg})
		}
	}
	return errs
}

func checkRule(rule models.ValidationRule, value string) string {
	if value == "" {
		if rule.Required {
			return "is required"
		}
		return ""
	}
	n := utf8.RuneCountInString(value)
	if rule.MinLength > 0 && n < rule.MinLength {
		return fmt.Sprintf("must be at least %d characters", rule.MinLength)
	}
	if rule.MaxLength > 0 && n > rule.MaxLength {
		return fmt.Sprintf("must be at most %d characters", rule.MaxLength)
	}
	if rule.Pattern != "" {
		re, err := compiledPattern(rule.Pattern)
		if err != nil {
			return "has an invalid pattern rule"
		}
		if !re.MatchString(value) {
			return fmt.Sprintf("does not match pattern %s", rule.Pattern)
		}
	}
	if len(rule.AllowedValues) > 0 {
		allowed := false
		for _, a := range rule.AllowedValues {
			if strings.EqualFold(strings.TrimSpace(a), value) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "must be one of " + strings.Join(rule.AllowedValues, ", ")
		}
	}
	if rule.Numeric || rule.Min != nil || rule.Max != nil {
		d, err := utils.ParseDecimal(value)
		if err != nil {
			return "must be a number"
		}
		if rule.Min != nil && d.LessThan(*rule.Min) {
			return "must be at least " + rule.Min.String()
		}
		if rule.Max != nil && d.GreaterThan(*rule.Max) {
			return "must be at most " + rule.Max.String()
		}
	}
	return ""
}
