package visit

import "errors"

var (
	ErrAlreadyInProgress = errors.New("staff already has a visit in progress")
	ErrNotFound          = errors.New("visit not found")
	ErrNotInProgress     = errors.New("visit is not in progress")
	ErrReasonRequired    = errors.New("cancel reason required")
	ErrStaffRequired     = errors.New("staff_id required")
)
