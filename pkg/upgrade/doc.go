// Package upgrade performs blue/green upgrades of an OpenStack deployment
// through the management server: provision a green cluster next to the
// blue one, migrate the data, switch traffic over.
package upgrade
