// Package config holds the configuration consumed by the on-demand repair
// core. Mirrors the Config + Validate() pattern used by every
// pkg/service/*/config.go in the teacher repo.
package config

import (
	"time"

	"github.com/pkg/errors"
)

// ParallelismLevel controls how many token ranges the local node repairs at
// once on behalf of a single range task.
type ParallelismLevel string

// Supported parallelism levels.
const (
	ParallelSequential ParallelismLevel = "sequential"
	ParallelParallel   ParallelismLevel = "parallel"
	ParallelDatacenter ParallelismLevel = "datacenter_aware"
)

// ValidationMode controls how thoroughly the local node validates replica
// consistency during a range repair.
type ValidationMode string

// Supported validation modes.
const (
	ValidationNormal ValidationMode = "normal"
	ValidationDeep   ValidationMode = "deep_validation"
)

// RepairType selects the repair technique the local node runs for a range.
type RepairType string

// Supported repair types.
const (
	RepairTypeIncremental RepairType = "incremental"
	RepairTypeFull        RepairType = "full"
)

// Priority is the OS/IO scheduling priority the local node should apply to a
// range repair.
type Priority int

// Supported priorities, lowest first.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// RepairConfiguration is handed unchanged from the on-demand scheduler to
// every repair task it drives, configuring the local node's repair action
// (spec.md §4.4 step 3).
type RepairConfiguration struct {
	Parallelism    ParallelismLevel
	Validation     ValidationMode
	RepairType     RepairType
	Priority       Priority
	RangeTimeout   time.Duration
}

// Validate reports every field left at an invalid value, wrapped into one
// error, rather than defaulting silently.
func (c RepairConfiguration) Validate() error {
	var errs []string

	switch c.Parallelism {
	case ParallelSequential, ParallelParallel, ParallelDatacenter:
	default:
		errs = append(errs, "parallelism: unsupported value "+string(c.Parallelism))
	}

	switch c.Validation {
	case ValidationNormal, ValidationDeep:
	default:
		errs = append(errs, "validation: unsupported value "+string(c.Validation))
	}

	switch c.RepairType {
	case RepairTypeIncremental, RepairTypeFull:
	default:
		errs = append(errs, "repair_type: unsupported value "+string(c.RepairType))
	}

	if c.Priority < PriorityLow || c.Priority > PriorityHigh {
		errs = append(errs, "priority: out of range")
	}

	if c.RangeTimeout <= 0 {
		errs = append(errs, "range_timeout: must be positive")
	}

	if len(errs) > 0 {
		return errors.New(joinErrs(errs))
	}
	return nil
}

// DefaultRepairConfiguration returns a conservative, always-valid
// configuration suitable as a starting point.
func DefaultRepairConfiguration() RepairConfiguration {
	return RepairConfiguration{
		Parallelism:  ParallelSequential,
		Validation:   ValidationNormal,
		RepairType:   RepairTypeIncremental,
		Priority:     PriorityNormal,
		RangeTimeout: 30 * time.Minute,
	}
}

// SchedulerConfig configures the on-demand scheduler facade itself: its
// repair action knobs plus the periodic ongoing-job sweep interval
// (spec.md §4.5).
type SchedulerConfig struct {
	Repair       RepairConfiguration
	SweepInterval time.Duration
}

// Validate reports every invalid field, wrapped into one error.
func (c SchedulerConfig) Validate() error {
	var errs []string
	if err := c.Repair.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, "sweep_interval: must be positive")
	}
	if len(errs) > 0 {
		return errors.New(joinErrs(errs))
	}
	return nil
}

// DefaultSchedulerConfig mirrors the teacher's ONGOING_JOBS_PERIOD_SECONDS =
// 10 constant (original_source OnDemandRepairSchedulerImpl).
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Repair:        DefaultRepairConfiguration(),
		SweepInterval: 10 * time.Second,
	}
}

func joinErrs(errs []string) string {
	out := "invalid configuration:"
	for _, e := range errs {
		out += " " + e + ";"
	}
	return out
}
