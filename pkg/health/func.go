package health

import (
	"context"
	"fmt"
	"time"
)

// FuncChecker reports healthy when Probe returns nil. It is used for checks
// that need a protocol exchange, such as logging in to the management server.
type FuncChecker struct {
	Name  string
	Probe func(ctx context.Context) error
}

// NewFuncChecker creates a checker around probe
func NewFuncChecker(name string, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{Name: name, Probe: probe}
}

// Check runs the probe
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if f.Probe == nil {
		return result(start, false, "no probe specified")
	}
	if err := f.Probe(ctx); err != nil {
		return result(start, false, fmt.Sprintf("%s failed: %v", f.Name, err))
	}
	return result(start, true, f.Name+" succeeded")
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}
