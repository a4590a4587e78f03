package workflow

import (
	"testing"

	"github.com/mmdatafocus/wotrack_backend/models"
)

func testDefinition() models.ProcessDefinition {
	return models.ProcessDefinition{
		ProductId:     "CT",
		Name:          "Cable Tray",
		Steps:         []string{"Cut", "Assembly", "QC", "Packing", "Receipt"},
		DetailColumns: []string{models.ColumnWoId, "PN", "Description", "WO REL"},
	}
}

func orderWith(raw map[string]string) *models.Order {
	o := &models.Order{ProductId: "CT", WoId: "6000785969"}
	for _, step := range testDefinition().Steps {
		o.StepStatuses.Set(step, models.ParseStepStatus(raw[step]))
	}
	return o
}

func TestDerive(t *testing.T) {
	cases := []struct {
		name   string
		raw    map[string]string
		step   string
		status OverallStatus
		kind   models.QualityHoldKind
	}{
		{
			name:   "hold beats earlier pending",
			raw:    map[string]string{"Cut": "05-Mar", "Assembly": "Hold", "QC": "QN"},
			step:   "Assembly",
			status: OverallHold,
		},
		{
			name:   "hold later than quality hold still wins",
			raw:    map[string]string{"Cut": "05-Mar", "Assembly": "DIFA", "QC": "05-Mar", "Packing": "Hold"},
			step:   "Packing",
			status: OverallHold,
		},
		{
			name:   "quality hold reports kind",
			raw:    map[string]string{"Cut": "05-Mar", "Assembly": "05-Mar", "QC": "DIFA"},
			step:   "QC",
			status: OverallQualityHold,
			kind:   models.QualityHoldDIFA,
		},
		{
			name:   "first incomplete step",
			raw:    map[string]string{"Cut": "05-Mar", "Assembly": "WIP", "QC": "P"},
			step:   "Assembly",
			status: OverallWorkInProgress,
		},
		{
			name:   "planned",
			raw:    map[string]string{"Cut": "05-Mar", "Assembly": "N/A", "QC": "P"},
			step:   "QC",
			status: OverallPlanned,
		},
		{
			name:   "pending after done",
			raw:    map[string]string{"Cut": "05-Mar"},
			step:   "Assembly",
			status: OverallPending,
		},
		{
			name:   "all done",
			raw:    map[string]string{"Cut": "01-Mar", "Assembly": "02-Mar", "QC": "03-Mar", "Packing": "04-Mar", "Receipt": "05-Mar"},
			step:   "Receipt",
			status: OverallCompleted,
		},
		{
			name:   "trailing n/a skipped",
			raw:    map[string]string{"Cut": "01-Mar", "Assembly": "02-Mar", "QC": "03-Mar", "Packing": "04-Mar", "Receipt": "N/A"},
			step:   "Packing",
			status: OverallCompleted,
		},
		{
			name:   "other text counts as past",
			raw:    map[string]string{"Cut": "01-Mar", "Assembly": "scrapped", "QC": "N/A", "Packing": "N/A", "Receipt": "N/A"},
			step:   "Assembly",
			status: OverallCompleted,
		},
		{
			name:   "all n/a",
			raw:    map[string]string{"Cut": "N/A", "Assembly": "N/A", "QC": "N/A", "Packing": "N/A", "Receipt": "N/A"},
			status: OverallUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(orderWith(tc.raw), testDefinition())
			if got.CurrentStep != tc.step || got.OverallStatus != tc.status || got.QualityHoldKind != tc.kind {
				t.Fatalf("Derive=%+v, want (%q, %s, %q)", got, tc.step, tc.status, tc.kind)
			}
		})
	}
}

func TestDeriveIgnoresStaleStepsAndIsPure(t *testing.T) {
	o := orderWith(map[string]string{"Cut": "05-Mar", "Assembly": "WIP"})
	o.StepStatuses.Set("Retired", models.StepStatusHold)
	before := o.Clone()

	first := Derive(o, testDefinition())
	second := Derive(o, testDefinition())
	if first != second {
		t.Fatalf("Derive not deterministic: %+v vs %+v", first, second)
	}
	if first.CurrentStep != "Assembly" || first.OverallStatus != OverallWorkInProgress {
		t.Fatalf("Derive=%+v", first)
	}
	if o.Snapshot() != before.Snapshot() {
		t.Fatalf("Derive mutated the order")
	}
}

func TestDeriveEdgeCases(t *testing.T) {
	if got := Derive(nil, testDefinition()); got.OverallStatus != OverallUnknown {
		t.Fatalf("nil order=%+v", got)
	}
	if got := Derive(orderWith(nil), models.ProcessDefinition{ProductId: "CT"}); got.OverallStatus != OverallUnknown || got.CurrentStep != "" {
		t.Fatalf("no steps=%+v", got)
	}
	// missing entries read as Pending
	bare := &models.Order{ProductId: "CT", WoId: "1"}
	if got := Derive(bare, testDefinition()); got.CurrentStep != "Cut" || got.OverallStatus != OverallPending {
		t.Fatalf("bare order=%+v", got)
	}
}

func TestSummarize(t *testing.T) {
	orders := []*models.Order{
		orderWith(map[string]string{"Cut": "05-Mar"}),
		orderWith(map[string]string{"Cut": "05-Mar", "Assembly": "WIP"}),
		orderWith(map[string]string{"Cut": "05-Mar", "Assembly": "Hold"}),
		orderWith(map[string]string{"Cut": "05-Mar", "Assembly": "05-Mar", "QC": "QN"}),
		orderWith(map[string]string{"Cut": "1-Mar", "Assembly": "1-Mar", "QC": "1-Mar", "Packing": "1-Mar", "Receipt": "1-Mar"}),
	}
	s := Summarize(testDefinition(), orders)
	if s.Total != 5 || s.Pending != 1 || s.Active != 1 || s.Hold != 1 || s.QualityHold != 1 || s.Completed != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s.ByStep["Assembly"] != 3 || s.ByStep["QC"] != 1 || s.ByStep["Receipt"] != 0 {
		t.Fatalf("by step=%v", s.ByStep)
	}
}
