/*
Package diagnostics collects support bundles from the management server.

A Collector runs on the failure path of every deployment step and at the
end of a run. It never fails: errors are logged and the bundle is simply
missing. Bundles can additionally be pushed to S3 with an S3Uploader.
*/
package diagnostics
