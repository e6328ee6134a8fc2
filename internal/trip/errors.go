package trip

import "errors"

var (
	ErrAlreadyActive = errors.New("staff already has an active trip")
	ErrNotFound      = errors.New("trip not found")
	ErrNotActive     = errors.New("trip is not active")
	ErrInvalidSample = errors.New("invalid location sample")
	ErrStaffRequired = errors.New("staff_id required")
)
