package model

import "fmt"

// ErrorKind classifies a failure recorded inside a run.
type ErrorKind string

// Error kinds. Only the in-run kinds ever appear inside an ExecutionResult;
// the others name API-boundary failures and persistence problems.
const (
	KindValidation              ErrorKind = "ValidationError"
	KindDefinitionNotFound      ErrorKind = "DefinitionNotFound"
	KindDuplicateExecutor       ErrorKind = "DuplicateExecutor"
	KindExecutorNotFound        ErrorKind = "ExecutorNotFound"
	KindCapabilityMissing       ErrorKind = "CapabilityMissing"
	KindExecutionTimeout        ErrorKind = "ExecutionTimeout"
	KindExecutorReportedFailure ErrorKind = "ExecutorReportedFailure"
	KindInternalError           ErrorKind = "InternalError"
	KindStoppedByUser           ErrorKind = "StoppedByUser"
	KindPersistenceError        ErrorKind = "PersistenceError"
)

// ExecError describes why a step or run failed.
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
