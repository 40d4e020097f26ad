package datamodels

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindProvision JobKind = "provision"
	KindCheck     JobKind = "check"
	KindLink      JobKind = "link"
)

// ProvisionJob is one request read from the request topic.
type ProvisionJob struct {
	JobID        uuid.UUID `json:"job_id"`
	Kind         JobKind   `json:"kind" validate:"oneof=provision check link"`
	Host         string    `json:"host" validate:"required"`
	Username     string    `json:"username,omitempty" validate:"required_if=Kind provision"`
	Password     string    `json:"password,omitempty" validate:"required_if=Kind provision"`
	Command      string    `json:"command,omitempty" validate:"required_if=Kind link"`
	PathKeyword  string    `json:"path_keyword,omitempty"`
	HostFragment string    `json:"host_fragment,omitempty"`
}

// JobResult is published to the result topic once per job.
type JobResult struct {
	JobID          uuid.UUID `json:"job_id"`
	Kind           JobKind   `json:"kind"`
	Host           string    `json:"host"`
	Succeeded      bool      `json:"succeeded"`
	ConnectionHint string    `json:"connection_hint,omitempty"`
	OS             string    `json:"os,omitempty"`
	URL            string    `json:"url,omitempty"`
	Output         string    `json:"output,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}
