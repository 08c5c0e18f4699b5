/*
Package events provides an in-memory broker for run progress notifications.

The sequencer, upgrade controller and diagnostics collector publish an
event at every step transition; the CLI subscribes and renders progress
lines. Events are informational only: nothing in the orchestration core
subscribes, so no decision ever depends on delivery.

# Architecture

	Publisher → Event Channel (buffer: 100)
	      ↓
	Broadcast Loop (single goroutine)
	      ↓
	Subscriber Channels (buffer: 50 each, full buffers drop)

# Event Types

Steps:
  - step.started, step.skipped, step.completed, step.failed

Tasks:
  - task.submitted, task.completed, task.failed

Upgrade and diagnostics:
  - upgrade.switched, bundle.collected

Every event carries the run id from NewBroker in Metadata["run_id"].

# Usage

	broker := events.NewBroker(runID)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("✓ %s %s\n", ev.Step, ev.Message)
		}
	}()

Stop delivers events that are already queued and then closes every
subscriber channel, so range loops over a subscription terminate.
*/
package events
