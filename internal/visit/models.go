package visit

import "time"

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Type string

const (
	TypeRoutine         Type = "routine"
	TypeAdmission       Type = "admission"
	TypeRecertification Type = "recertification"
	TypeDischarge       Type = "discharge"
	TypeSupervisory     Type = "supervisory"
	TypePRN             Type = "prn"
)

// Known reports whether t is one of the agency's standard visit types. Other
// values are stored as given.
func (t Type) Known() bool {
	switch t {
	case TypeRoutine, TypeAdmission, TypeRecertification, TypeDischarge, TypeSupervisory, TypePRN:
		return true
	}
	return false
}

// Visit is one patient encounter. TripID only records which trip preceded
// the visit; the two lifecycles never drive each other.
type Visit struct {
	ID               string     `json:"id"`
	StaffID          string     `json:"staff_id"`
	TripID           string     `json:"trip_id,omitempty"`
	PatientName      string     `json:"patient_name"`
	PatientAddress   string     `json:"patient_address"`
	VisitType        Type       `json:"visit_type"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	DriveTimeMinutes *int       `json:"drive_time_minutes,omitempty"`
	DurationMinutes  *int       `json:"duration_minutes,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
}

func (v Visit) clone() Visit {
	out := v
	out.EndedAt = clonePtr(v.EndedAt)
	out.DriveTimeMinutes = clonePtr(v.DriveTimeMinutes)
	out.DurationMinutes = clonePtr(v.DurationMinutes)
	out.Notes = clonePtr(v.Notes)
	out.CancelReason = clonePtr(v.CancelReason)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type StartRequest struct {
	StaffID          string `json:"staff_id"`
	PatientName      string `json:"patient_name"`
	PatientAddress   string `json:"patient_address"`
	VisitType        Type   `json:"visit_type"`
	TripID           string `json:"trip_id,omitempty"`
	DriveTimeMinutes *int   `json:"drive_time_minutes,omitempty"`
}
