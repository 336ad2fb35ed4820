package config

import "testing"

func TestDefaultRepairConfigurationIsValid(t *testing.T) {
	if err := DefaultRepairConfiguration().Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestRepairConfigurationValidateRejectsBadFields(t *testing.T) {
	c := DefaultRepairConfiguration()
	c.Parallelism = "bogus"
	c.RangeTimeout = 0

	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDefaultSchedulerConfigIsValid(t *testing.T) {
	if err := DefaultSchedulerConfig().Validate(); err != nil {
		t.Fatalf("default scheduler config should be valid: %v", err)
	}
}

func TestSchedulerConfigValidateRejectsZeroSweepInterval(t *testing.T) {
	c := DefaultSchedulerConfig()
	c.SweepInterval = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for zero sweep interval")
	}
}
