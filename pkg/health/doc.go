/*
Package health provides liveness probes for the services panda drives.

The Checker interface abstracts a single probe; FuncChecker wraps any
function, such as a login to the management server, as a checker.

Wait polls a checker with a fixed delay until it is healthy or the timeout
elapses. The management server is considered alive once a login succeeds;
DefaultConfig gives it 500 seconds with a check every 10 seconds.

	checker := health.NewFuncChecker("login", client.Login)
	if err := health.Wait(ctx, "management service", checker, health.DefaultConfig()); err != nil {
		return err
	}
*/
package health
