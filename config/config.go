// Package config holds the shared versions and per-task configuration every
// decision round reads, and the sources they are fetched from.
package config

import (
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/KamdynS/leech/state"
)

// Versions maps registered workflow and task type names to their versions.
type Versions struct {
	Workflows map[string]string `json:"workflow_versions" yaml:"workflow_versions"`
	Tasks     map[string]string `json:"task_versions" yaml:"task_versions"`
}

// Workflow returns the registered version of a flow type.
func (v Versions) Workflow(name string) string {
	return v.Workflows[name]
}

// Task returns the registered version of an activity or lambda type.
func (v Versions) Task(name string) string {
	return v.Tasks[name]
}

// Version returns the version for an operation of kind.
func (v Versions) Version(kind state.OperationKind, name string) string {
	if kind == state.KindSubWorkflow {
		return v.Workflow(name)
	}
	return v.Task(name)
}

// TaskConfig configures one task or workflow type.
type TaskConfig struct {
	// Concurrency caps simultaneously live operations of this type. Zero is
	// unlimited; nil takes the limit from Defaults.
	Concurrency *int   `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	TaskList    string `json:"task_list" yaml:"task_list"`

	ScheduleToStartSeconds int `json:"schedule_to_start,omitempty" yaml:"schedule_to_start,omitempty"`
	StartToCloseSeconds    int `json:"start_to_close,omitempty" yaml:"start_to_close,omitempty"`
	ScheduleToCloseSeconds int `json:"schedule_to_close,omitempty" yaml:"schedule_to_close,omitempty"`
	HeartbeatSeconds       int `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`

	// MaxFailures is how many failures a flow tolerates before giving up. Zero uses DefaultMaxFailures.
	MaxFailures int `json:"max_failures,omitempty" yaml:"max_failures,omitempty"`
}

// DefaultMaxFailures is the failure cap flows apply when none is configured.
const DefaultMaxFailures = 3

func (t TaskConfig) ScheduleToStart() time.Duration {
	return time.Duration(t.ScheduleToStartSeconds) * time.Second
}

func (t TaskConfig) StartToClose() time.Duration {
	return time.Duration(t.StartToCloseSeconds) * time.Second
}

func (t TaskConfig) ScheduleToClose() time.Duration {
	return time.Duration(t.ScheduleToCloseSeconds) * time.Second
}

func (t TaskConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatSeconds) * time.Second
}

// Config is the nested per-(kind, type) configuration.
type Config struct {
	Defaults TaskConfig                                    `json:"defaults" yaml:"defaults"`
	Tasks    map[state.OperationKind]map[string]TaskConfig `json:"tasks" yaml:"tasks"`
}

// Limit returns a concurrency limit for a TaskConfig literal.
func Limit(n int) *int {
	return &n
}

// Task returns the configuration of a type with unset fields taken from
// Defaults. A set Concurrency, zero included, is kept.
func (c Config) Task(kind state.OperationKind, name string) TaskConfig {
	tc := c.Tasks[kind][name]
	limit := tc.Concurrency
	tc.Concurrency = nil
	if err := mergo.Merge(&tc, c.Defaults); err != nil {
		// Merge only fails on mismatched types, which TaskConfig cannot produce.
		panic(fmt.Sprintf("merge task defaults: %v", err))
	}
	if limit != nil {
		tc.Concurrency = limit
	}
	return tc
}

// Concurrency returns the concurrency limit of a type; zero means unlimited.
func (c Config) Concurrency(kind state.OperationKind, name string) int {
	if n := c.Task(kind, name).Concurrency; n != nil {
		return *n
	}
	return 0
}

// MaxFailures returns the failure cap of a type.
func (c Config) MaxFailures(kind state.OperationKind, name string) int {
	if n := c.Task(kind, name).MaxFailures; n > 0 {
		return n
	}
	return DefaultMaxFailures
}

// Document is what a Source returns for one domain.
type Document struct {
	Versions Versions `json:"versions" yaml:"versions"`
	Config   Config   `json:"config" yaml:"config"`
}

// Validate checks that every configured type has a registered version.
func (d *Document) Validate() error {
	for kind, tasks := range d.Config.Tasks {
		for name, tc := range tasks {
			if kind != state.KindLambda && d.Versions.Version(kind, name) == "" {
				return fmt.Errorf("%s %s is configured but has no version", kind, name)
			}
			if tc.Concurrency != nil && *tc.Concurrency < 0 {
				return fmt.Errorf("%s %s: concurrency must not be negative", kind, name)
			}
		}
	}
	return nil
}
