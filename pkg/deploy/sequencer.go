package deploy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/config"
	"github.com/cuemby/panda/pkg/events"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/types"
	"github.com/cuemby/panda/pkg/upgrade"
)

// Step names
const (
	StepDeployAppliance   = "deploy_appliance"
	StepConfigureServices = "configure_services"
	StepCreateCluster     = "create_cluster"
	StepApplyPatch        = "apply_patch"
	StepUpgrade           = "upgrade"
	StepCollectBundle     = "collect_bundle"
)

// Diagnostics collects a support bundle; it never fails
type Diagnostics interface {
	Collect(ctx context.Context, deployment, dir string) string
}

// Upgrader runs blue/green upgrades
type Upgrader interface {
	Upgrade(ctx context.Context, blue string, req upgrade.Request) (types.UpgradeContext, error)
}

// Sequencer runs the steps of an end-to-end deployment in order:
// appliance, services, cluster, patches (with upgrades), support bundle.
type Sequencer struct {
	Run         *config.Run
	LogDir      string
	Appliance   *Appliance
	Backend     OpenstackBackend
	Patcher     *Patcher
	Upgrader    Upgrader
	Diagnostics Diagnostics
	Events      events.Publisher

	// Sleep replaces the patch cooldown wait, for tests
	Sleep Sleeper

	logger zerolog.Logger
}

type stepFunc func(ctx context.Context) (skipped bool, err error)

func (s *Sequencer) init() {
	if s.Events == nil {
		s.Events = events.Discard
	}
	if s.Sleep == nil {
		s.Sleep = sleepContext
	}
	s.logger = log.WithComponent("deploy")
}

// Execute runs every step. It stops at the first failing step; a support
// bundle is collected for the failure and the step error is returned as is.
// The final bundle of a successful run is collected as the last step.
func (s *Sequencer) Execute(ctx context.Context, state *State) error {
	s.init()

	if err := s.step(ctx, state, StepDeployAppliance, s.Appliance.Deploy); err != nil {
		return err
	}

	if err := s.step(ctx, state, StepConfigureServices, func(ctx context.Context) (bool, error) {
		return s.Appliance.Configure(ctx, s.Run.OMJSProperties)
	}); err != nil {
		return err
	}

	if err := s.resolveVersion(ctx, state); err != nil {
		return err
	}

	if state.Spec != nil {
		if err := s.step(ctx, state, StepCreateCluster, func(ctx context.Context) (bool, error) {
			return s.Backend.DeployOpenstack(ctx, state)
		}); err != nil {
			return err
		}
	}

	for _, patch := range s.Run.Patches {
		if err := s.patch(ctx, state, patch); err != nil {
			return err
		}
	}

	return s.step(ctx, state, StepCollectBundle, func(ctx context.Context) (bool, error) {
		s.Diagnostics.Collect(ctx, state.BundleSubject(), s.LogDir)
		return false, nil
	})
}

func (s *Sequencer) resolveVersion(ctx context.Context, state *State) error {
	if state.Version != "" {
		return nil
	}
	if s.Run.Version != "" {
		state.Version = s.Run.Version
		return nil
	}
	version, err := s.Appliance.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Str("version", version).Msg("Appliance version")
	state.Version = version
	return nil
}

func (s *Sequencer) patch(ctx context.Context, state *State, file string) error {
	// patches applied back to back tend to fail
	s.logger.Debug().Dur("cooldown", s.Run.Timing.PatchCooldown).Msg("Sleep before patching")
	if err := s.Sleep(ctx, s.Run.Timing.PatchCooldown); err != nil {
		return err
	}

	if err := s.step(ctx, state, StepApplyPatch, func(ctx context.Context) (bool, error) {
		return false, s.Patcher.Apply(ctx, file)
	}); err != nil {
		return err
	}
	if !IsUpgradePatch(file) {
		return nil
	}

	return s.step(ctx, state, StepUpgrade, func(ctx context.Context) (bool, error) {
		return false, s.upgrade(ctx, state, file)
	})
}

// upgrade moves the active cluster to the release carried by the upgrade
// patch file. The request is shaped for that release, not the one running.
func (s *Sequencer) upgrade(ctx context.Context, state *State, file string) error {
	target, err := ParsePatchFile(file)
	if err != nil {
		return err
	}
	req := upgrade.Request{
		Version:       target.Version,
		AdminUser:     s.Run.AdminUser,
		AdminPassword: s.Run.AdminPassword,
	}
	if upgrade.UsesVIPs(target.Version) {
		if req.PublicVIP, req.PrivateVIP, err = state.NextVIPs(s.Run.PublicVIPPool, s.Run.PrivateVIPPool); err != nil {
			return err
		}
	}

	uc, err := s.Upgrader.Upgrade(ctx, state.ActiveCluster(), req)
	if err != nil {
		return err
	}
	state.Upgrade = uc
	state.Version = target.Version
	return nil
}

// step runs fn as the named step. Failures are diagnosed through the
// collector before the original error is returned.
func (s *Sequencer) step(ctx context.Context, state *State, name string, fn stepFunc) error {
	logger := s.logger.With().Str("step", name).Logger()
	timer := metrics.NewTimer()
	s.Events.Publish(&events.Event{Type: events.EventStepStarted, Step: name})

	skipped, err := fn(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, name)

	if err != nil {
		metrics.StepsTotal.WithLabelValues(name, metrics.ResultFailed).Inc()
		logger.Error().Err(err).Dur("took", timer.Duration()).Msg("Step failed")
		s.Events.Publish(&events.Event{Type: events.EventStepFailed, Step: name, Message: err.Error()})
		if name != StepCollectBundle {
			s.Diagnostics.Collect(ctx, state.BundleSubject(), s.LogDir)
		}
		return err
	}

	if skipped {
		metrics.StepsTotal.WithLabelValues(name, metrics.ResultSkipped).Inc()
		logger.Info().Msg("Step skipped")
		s.Events.Publish(&events.Event{Type: events.EventStepSkipped, Step: name})
		return nil
	}

	metrics.StepsTotal.WithLabelValues(name, metrics.ResultCompleted).Inc()
	logger.Info().Dur("took", timer.Duration().Round(time.Second)).Msg("Step completed")
	s.Events.Publish(&events.Event{Type: events.EventStepCompleted, Step: name})
	return nil
}
