// Package buildapi resolves build ids to deliverable download URLs through
// the build system REST API and downloads them.
package buildapi
