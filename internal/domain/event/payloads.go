package event

// TaskStarted is the data of ecis.task.started.
type TaskStarted struct {
	TaskID     string `json:"task_id"`
	AgentID    string `json:"agent_id"`
	Capability string `json:"capability"`
}

// TaskProgress is the data of ecis.task.progress.
type TaskProgress struct {
	TaskID   string         `json:"task_id"`
	AgentID  string         `json:"agent_id"`
	Progress int            `json:"progress"` // percent, 0-100
	Status   string         `json:"status"`
	Details  map[string]any `json:"details,omitempty"`
}

// TaskCompleted is the data of ecis.task.completed.
type TaskCompleted struct {
	TaskID      string         `json:"task_id"`
	AgentID     string         `json:"agent_id"`
	Result      map[string]any `json:"result,omitempty"`
	DurationSec float64        `json:"duration_sec"`
}

// TaskFailed is the data of ecis.task.failed and ecis.task.cancelled.
type TaskFailed struct {
	TaskID       string  `json:"task_id"`
	AgentID      string  `json:"agent_id"`
	ErrorCode    string  `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
	DurationSec  float64 `json:"duration_sec"`
}

// StatusChanged is the data of ecis.robot.status.changed.
type StatusChanged struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	Previous  string `json:"previous"`
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
}

// RobotError is the data of ecis.robot.error.
type RobotError struct {
	AgentID string `json:"agent_id"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}

// SystemStatus is the data of ecis.system.online and ecis.system.offline.
type SystemStatus struct {
	SystemID   string `json:"system_id"`
	SystemType string `json:"system_type"`
	Agents     int    `json:"agents"`
}

// RobotCommand is the data of inbound ecis.robot.command.* events.
type RobotCommand struct {
	AgentID string         `json:"agent_id"`
	TaskID  string         `json:"task_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}
