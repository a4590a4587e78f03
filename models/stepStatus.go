package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type StepState string

const (
	StepStatePending        StepState = "Pending"
	StepStatePlanned        StepState = "Planned"
	StepStateWorkInProgress StepState = "WorkInProgress"
	StepStateDone           StepState = "Done"
	StepStateHold           StepState = "Hold"
	StepStateQualityHold    StepState = "QualityHold"
	StepStateNotApplicable  StepState = "NotApplicable"
	StepStateOther          StepState = "Other"
)

type QualityHoldKind string

const (
	QualityHoldQN   QualityHoldKind = "QN"
	QualityHoldDIFA QualityHoldKind = "DIFA"
)

// Operator tokens as they appear in sheets and step updates.
const (
	TokenPlanned        = "P"
	TokenWorkInProgress = "WIP"
	TokenNotApplicable  = "N/A"
	TokenHold           = "Hold"
)

// StepStatus is the progress of one step. Value carries the display string for Done and the
// operator's text for Other. DoneAt is set when the Done stamp was produced by this service.
type StepStatus struct {
	State  StepState       `json:"state"`
	Value  string          `json:"value,omitempty"`
	Kind   QualityHoldKind `json:"kind,omitempty"`
	DoneAt *time.Time      `json:"done_at,omitempty"`
}

var (
	StepStatusPending        = StepStatus{State: StepStatePending}
	StepStatusPlanned        = StepStatus{State: StepStatePlanned}
	StepStatusWorkInProgress = StepStatus{State: StepStateWorkInProgress}
	StepStatusHold           = StepStatus{State: StepStateHold}
	StepStatusNotApplicable  = StepStatus{State: StepStateNotApplicable}
)

func DoneStatus(at time.Time) StepStatus {
	return StepStatus{State: StepStateDone, Value: FormatDisplayTime(at), DoneAt: &at}
}

// DoneStatusFromDisplay records a Done whose instant is only known as a display string.
func DoneStatusFromDisplay(display string) StepStatus {
	return StepStatus{State: StepStateDone, Value: display}
}

func QualityHoldStatus(kind QualityHoldKind) StepStatus {
	return StepStatus{State: StepStateQualityHold, Kind: kind}
}

func OtherStatus(raw string) StepStatus {
	return StepStatus{State: StepStateOther, Value: raw}
}

// ParseStepStatus is the only mapping from raw cell/operator text to a StepStatus.
func ParseStepStatus(raw string) StepStatus {
	v := strings.TrimSpace(raw)
	switch strings.ToUpper(v) {
	case "":
		return StepStatusPending
	case "P":
		return StepStatusPlanned
	case "WIP":
		return StepStatusWorkInProgress
	case "HOLD":
		return StepStatusHold
	case "QN":
		return QualityHoldStatus(QualityHoldQN)
	case "DIFA":
		return QualityHoldStatus(QualityHoldDIFA)
	case "N/A":
		return StepStatusNotApplicable
	}
	if IsDisplayTimestamp(v) {
		return DoneStatusFromDisplay(v)
	}
	return OtherStatus(v)
}

// Raw is the only mapping back to text; ParseStepStatus(s.Raw()) yields s's state.
func (s StepStatus) Raw() string {
	switch s.State {
	case StepStatePending, "":
		return ""
	case StepStatePlanned:
		return TokenPlanned
	case StepStateWorkInProgress:
		return TokenWorkInProgress
	case StepStateDone:
		return s.Display()
	case StepStateHold:
		return TokenHold
	case StepStateQualityHold:
		return string(s.Kind)
	case StepStateNotApplicable:
		return TokenNotApplicable
	default:
		return s.Value
	}
}

// Display derives a Done stamp's text from its instant when one is known.
func (s StepStatus) Display() string {
	if s.State == StepStateDone && s.DoneAt != nil {
		return FormatDisplayTime(*s.DoneAt)
	}
	return s.Value
}

func (s StepStatus) String() string {
	if s.State == "" {
		return string(StepStatePending)
	}
	return string(s.State)
}

// IsIncomplete is true for Pending, Planned and WorkInProgress.
func (s StepStatus) IsIncomplete() bool {
	switch s.State {
	case StepStatePending, StepStatePlanned, StepStateWorkInProgress, "":
		return true
	}
	return false
}

func (s StepStatus) Equal(o StepStatus) bool {
	if s.State != o.State || s.Value != o.Value || s.Kind != o.Kind {
		return false
	}
	if (s.DoneAt == nil) != (o.DoneAt == nil) {
		return false
	}
	return s.DoneAt == nil || s.DoneAt.Equal(*o.DoneAt)
}

type StepEntry struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
}

// StepStatuses keeps step progress in process-definition order.
type StepStatuses []StepEntry

func (s StepStatuses) Get(step string) (StepStatus, bool) {
	for _, e := range s {
		if e.Step == step {
			return e.Status, true
		}
	}
	return StepStatus{}, false
}

// StatusOf returns Pending for a step without an entry.
func (s StepStatuses) StatusOf(step string) StepStatus {
	if st, ok := s.Get(step); ok {
		return st
	}
	return StepStatusPending
}

// Set replaces the entry for step in place, or appends a new one.
func (s *StepStatuses) Set(step string, status StepStatus) {
	for i := range *s {
		if (*s)[i].Step == step {
			(*s)[i].Status = status
			return
		}
	}
	*s = append(*s, StepEntry{Step: step, Status: status})
}

func (s StepStatuses) Clone() StepStatuses {
	if s == nil {
		return nil
	}
	out := make(StepStatuses, len(s))
	for i, e := range s {
		out[i] = e
		if e.Status.DoneAt != nil {
			at := *e.Status.DoneAt
			out[i].Status.DoneAt = &at
		}
	}
	return out
}

// RawValues flattens progress to step -> raw text, the shape sheets and the UI use.
func (s StepStatuses) RawValues() map[string]string {
	out := make(map[string]string, len(s))
	for _, e := range s {
		out[e.Step] = e.Status.Raw()
	}
	return out
}

func (s StepStatuses) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StepStatuses) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to scan step statuses: ", value))
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}
