package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/wotrack_backend/utils"
	"github.com/shopspring/decimal"
)

// ColumnWoId is the canonical header carrying the work order identifier.
const ColumnWoId = "WO ID"

var defaultColumnAliases = map[string][]string{
	ColumnWoId:    {"WO", "WO No", "WO No.", "WO Number", "Work Order", "Work Order ID", "WOID"},
	"PN":          {"Part Number", "Part No", "Part No.", "P/N"},
	"Description": {"Desc", "Desc.", "Part Description"},
	"WO DUE":      {"Due Date", "WO Due Date", "Due"},
	"Priority":    {"Prio", "PRI"},
	"Qty":         {"Quantity", "QTY.", "Order Qty"},
	"Customer":    {"Customer Name", "Client"},
	"ECD":         {"Estimated Completion", "Estimated Completion Date"},
}

// ValidationRule is the rule set applied to one column of an imported row.
type ValidationRule struct {
	Required      bool             `json:"required,omitempty" yaml:"required"`
	Numeric       bool             `json:"numeric,omitempty" yaml:"numeric"`
	MinLength     int              `json:"min_length,omitempty" yaml:"min_length" validate:"gte=0"`
	MaxLength     int              `json:"max_length,omitempty" yaml:"max_length" validate:"gte=0"`
	Pattern       string           `json:"pattern,omitempty" yaml:"pattern"`
	AllowedValues []string         `json:"allowed_values,omitempty" yaml:"allowed_values"`
	Min           *decimal.Decimal `json:"min,omitempty" yaml:"min"`
	Max           *decimal.Decimal `json:"max,omitempty" yaml:"max"`
	Message       string           `json:"message,omitempty" yaml:"message"`
}

// ProcessDefinition is the per-product schema: ordered steps, detail columns, header aliases
// and validation rules. Engines receive it as an explicit argument.
type ProcessDefinition struct {
	ProductId       string                    `json:"product_id" yaml:"product_id" validate:"required,max=100"`
	Name            string                    `json:"name" yaml:"name" validate:"max=255"`
	Steps           []string                  `json:"steps" yaml:"steps" validate:"required,min=1,dive,required"`
	DetailColumns   []string                  `json:"detail_columns" yaml:"detail_columns" validate:"dive,required"`
	ColumnAliases   map[string][]string       `json:"column_aliases,omitempty" yaml:"column_aliases"`
	ValidationRules map[string]ValidationRule `json:"validation_rules,omitempty" yaml:"validation_rules" validate:"dive"`
	RequiredColumns []string                  `json:"required_columns,omitempty" yaml:"required_columns"`
}

var definitionValidator = validator.New()

// Validate rejects definitions the engines cannot run against.
func (d *ProcessDefinition) Validate() error {
	if d == nil {
		return &ConfigError{Reason: "definition is missing"}
	}
	if err := definitionValidator.Struct(d); err != nil {
		return &ConfigError{ProductId: d.ProductId, Reason: "invalid definition", Err: err}
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		key := strings.ToLower(strings.TrimSpace(step))
		if key == "" {
			return &ConfigError{ProductId: d.ProductId, Reason: "step names must not be blank"}
		}
		if seen[key] {
			return &ConfigError{ProductId: d.ProductId, Reason: fmt.Sprintf("duplicate step %q", step)}
		}
		seen[key] = true
	}
	for column, rule := range d.ValidationRules {
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return &ConfigError{ProductId: d.ProductId, Reason: fmt.Sprintf("bad pattern for column %q", column), Err: err}
			}
		}
		if rule.Min != nil && rule.Max != nil && rule.Min.GreaterThan(*rule.Max) {
			return &ConfigError{ProductId: d.ProductId, Reason: fmt.Sprintf("min greater than max for column %q", column)}
		}
	}
	return nil
}

// Aliases falls back to the built-in aliases when the definition declares none. Every
// required column is a canonical name in the result, so its header resolves in any case.
func (d ProcessDefinition) Aliases() map[string][]string {
	src := defaultColumnAliases
	if len(d.ColumnAliases) > 0 {
		src = d.ColumnAliases
	}
	out := make(map[string][]string, len(src)+len(d.RequiredColumns)+1)
	for canonical, variants := range src {
		out[canonical] = variants
	}
	for _, r := range d.Required() {
		if _, ok := out[r]; !ok {
			out[r] = nil
		}
	}
	return out
}

// Required lists the canonical columns an import must carry; WO ID is always among them.
func (d ProcessDefinition) Required() []string {
	out := []string{ColumnWoId}
	for _, c := range d.RequiredColumns {
		if c != "" && !strings.EqualFold(c, ColumnWoId) {
			out = append(out, c)
		}
	}
	return out
}

func (d ProcessDefinition) HasStep(step string) bool {
	for _, s := range d.Steps {
		if s == step {
			return true
		}
	}
	return false
}

func (d ProcessDefinition) IsStepColumn(name string) bool {
	for _, s := range d.Steps {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func (d ProcessDefinition) IsDetailColumn(name string) bool {
	for _, c := range d.DetailColumns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ProcessDefinitionUpdate is a partial update; nil fields are left untouched.
type ProcessDefinitionUpdate struct {
	Name            *string                   `json:"name"`
	Steps           *[]string                 `json:"steps"`
	DetailColumns   *[]string                 `json:"detail_columns"`
	ColumnAliases   map[string][]string       `json:"column_aliases"`
	ValidationRules map[string]ValidationRule `json:"validation_rules"`
	RequiredColumns *[]string                 `json:"required_columns"`
}

func (u ProcessDefinitionUpdate) Apply(def ProcessDefinition) ProcessDefinition {
	if u.Name != nil {
		def.Name = *u.Name
	}
	if u.Steps != nil {
		def.Steps = append([]string(nil), (*u.Steps)...)
	}
	if u.DetailColumns != nil {
		def.DetailColumns = append([]string(nil), (*u.DetailColumns)...)
	}
	if u.ColumnAliases != nil {
		def.ColumnAliases = u.ColumnAliases
	}
	if u.ValidationRules != nil {
		def.ValidationRules = u.ValidationRules
	}
	if u.RequiredColumns != nil {
		def.RequiredColumns = append([]string(nil), (*u.RequiredColumns)...)
	}
	return def
}

// ProcessDefinitionRecord persists a definition as a JSON config column, one row per product.
type ProcessDefinitionRecord struct {
	ProductId string    `gorm:"primary_key;size:100" json:"product_id"`
	Name      string    `gorm:"size:255" json:"name"`
	Config    string    `gorm:"type:text;not null" json:"config"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessDefinitionRecord) TableName() string {
	return "process_definitions"
}

func (r ProcessDefinitionRecord) Decode() (*ProcessDefinition, error) {
	var def ProcessDefinition
	if err := utils.UnmarshalFromJSON([]byte(r.Config), &def); err != nil {
		return nil, &ConfigError{ProductId: r.ProductId, Reason: "config is not valid JSON", Err: err}
	}
	def.ProductId = r.ProductId
	if def.Name == "" {
		def.Name = r.Name
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func EncodeProcessDefinition(def ProcessDefinition) (ProcessDefinitionRecord, error) {
	config, err := utils.MarshalToJSON(def)
	if err != nil {
		return ProcessDefinitionRecord{}, err
	}
	return ProcessDefinitionRecord{
		ProductId: def.ProductId,
		Name:      def.Name,
		Config:    config,
	}, nil
}
