package sling

import (
	"github.com/flarco/g"
)

// Sling accepts a configuration and runs a copy task
func Sling(cfg *Config) (err error) {

	task := NewTask("", cfg)
	if task.Err != nil {
		return g.Error(task.Err, "error creating task")
	}

	err = task.Execute()
	if err != nil {
		return g.Error(err, "error running task")
	}

	return
}
