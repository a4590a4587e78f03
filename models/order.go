package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type OrderKey struct {
	ProductId string `json:"product_id"`
	WoId      string `json:"wo_id"`
}

func (k OrderKey) String() string {
	return k.ProductId + "/" + k.WoId
}

// DetailFields is non-step order metadata keyed by canonical column name.
type DetailFields map[string]string

func (d DetailFields) Clone() DetailFields {
	if d == nil {
		return nil
	}
	out := make(DetailFields, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d DetailFields) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *DetailFields) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to scan detail fields: ", value))
	}
	if len(data) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(data, d)
}

type Order struct {
	ID           int          `gorm:"primary_key" json:"id"`
	ProductId    string       `gorm:"size:100;not null;uniqueIndex:idx_orders_product_wo" json:"product_id"`
	WoId         string       `gorm:"size:100;not null;uniqueIndex:idx_orders_product_wo" json:"wo_id"`
	DetailFields DetailFields `gorm:"type:text" json:"detail_fields"`
	StepStatuses StepStatuses `gorm:"type:text" json:"step_statuses"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (o *Order) Key() OrderKey {
	return OrderKey{ProductId: o.ProductId, WoId: o.WoId}
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.DetailFields = o.DetailFields.Clone()
	c.StepStatuses = o.StepStatuses.Clone()
	return &c
}

// EnsureSteps adds a Pending entry for every definition step the order lacks.
// Existing entries, including ones for steps no longer defined, are kept as they are.
func (o *Order) EnsureSteps(def ProcessDefinition) {
	for _, step := range def.Steps {
		if _, ok := o.StepStatuses.Get(step); !ok {
			o.StepStatuses = append(o.StepStatuses, StepEntry{Step: step, Status: StepStatusPending})
		}
	}
}

// Snapshot is the JSON form stored with audit entries.
func (o *Order) Snapshot() string {
	b, err := json.Marshal(o)
	if err != nil {
		return ""
	}
	return string(b)
}
