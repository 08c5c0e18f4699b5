package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/panda/pkg/errdefs"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("dial tcp 10.0.0.5:443: connection refused")))
	assert.Equal(t, 2, exitCode(&errdefs.ProvisionError{Reason: "cluster VIO is not running"}))
	assert.Equal(t, 2, exitCode(fmt.Errorf("upgrade: %w", &errdefs.NotCompletedError{Action: "switching"})))
}
