package sling

// ExecStatus is the status of an execution
type ExecStatus string

const (
	// ExecStatusCreated = created
	ExecStatusCreated ExecStatus = "created"
	// ExecStatusRunning = running
	ExecStatusRunning ExecStatus = "running"
	// ExecStatusSuccess = success
	ExecStatusSuccess ExecStatus = "success"
	// ExecStatusInterrupted = interrupted
	ExecStatusInterrupted ExecStatus = "interrupted"
	// ExecStatusError = error
	ExecStatusError ExecStatus = "error"
)

// IsRunning returns true if an execution is running
func (s ExecStatus) IsRunning() bool {
	switch s {
	case ExecStatusCreated, ExecStatusRunning:
		return true
	}
	return false
}

// IsFinished returns true if an execution is finished
func (s ExecStatus) IsFinished() bool {
	switch s {
	case ExecStatusSuccess, ExecStatusError, ExecStatusInterrupted:
		return true
	}
	return false
}

// IsFailure returns true if an execution is failed
func (s ExecStatus) IsFailure() bool {
	switch s {
	case ExecStatusError, ExecStatusInterrupted:
		return true
	}
	return false
}

// IsSuccess returns true if an execution is successful
func (s ExecStatus) IsSuccess() bool {
	return s == ExecStatusSuccess
}
