package task

import "time"

// ResultStatus is the outcome of executing a task.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// Metrics records when an execution started and ended.
type Metrics struct {
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration is the wall time between start and end.
func (m Metrics) Duration() time.Duration {
	if m.EndedAt.Before(m.StartedAt) {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// Result is the outcome of executing a task on an agent. Results are values;
// once constructed they are copied, never modified in place.
type Result struct {
	TaskID  string       `json:"task_id"`
	AgentID string       `json:"agent_id"`
	Status  ResultStatus `json:"status"`
	Output  Value        `json:"output"`
	Metrics Metrics      `json:"metrics"`
	Error   string       `json:"error,omitempty"`
}

// Succeeded builds a success result.
func Succeeded(taskID, agentID string, output Value, started, ended time.Time) Result {
	return Result{
		TaskID:  taskID,
		AgentID: agentID,
		Status:  ResultSuccess,
		Output:  output,
		Metrics: Metrics{StartedAt: started, EndedAt: ended},
	}
}

// Failed builds a failure result carrying err's message.
func Failed(taskID, agentID string, err error, started, ended time.Time) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		TaskID:  taskID,
		AgentID: agentID,
		Status:  ResultFailure,
		Metrics: Metrics{StartedAt: started, EndedAt: ended},
		Error:   msg,
	}
}

// FailedWithOutput is Failed for executions that produced output worth
// keeping, such as a command's stderr and exit code.
func FailedWithOutput(taskID, agentID string, output Value, err error, started, ended time.Time) Result {
	r := Failed(taskID, agentID, err, started, ended)
	r.Output = output
	return r
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Status == ResultSuccess }
