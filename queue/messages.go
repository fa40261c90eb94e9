package queue

import (
	"encoding/json"
	"time"
)

// CommitArgs are the keyword arguments of a commit message
type CommitArgs struct {
	PublishID string    `json:"publish_id"`
	Env       string    `json:"env"`
	FromDate  time.Time `json:"from_date"`
}

// DeployConfigArgs are the keyword arguments of a deploy_config message.
// Config is the document exactly as submitted.
type DeployConfigArgs struct {
	Env      string          `json:"env"`
	Config   json.RawMessage `json:"config"`
	FromDate time.Time       `json:"from_date"`
}

// CompleteDeployConfigArgs are the keyword arguments of a
// complete_deploy_config_task message
type CompleteDeployConfigArgs struct {
	TaskID     string   `json:"task_id"`
	Env        string   `json:"env,omitempty"`
	FlushPaths []string `json:"flush_paths"`
}
