// Package oms is a client of the OpenStack Management Server REST API.
//
// The server lives at https://<host>:8443/oms/ with the API under api/.
// Authentication is a Spring Security form login that sets a session
// cookie; Login replaces the session, and the diagnostics collector calls
// it again before fetching a bundle because long runs outlive the session.
// Certificate verification is disabled since the appliance certificate is
// self-signed.
//
// Asynchronous endpoints (cluster create, delete, retry and every upgrade
// phase) return the raw Response so that pkg/task can check the 202 status
// and extract the task id from the Location header.
package oms
