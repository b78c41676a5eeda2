/*
Package health provides the process-wide readiness and liveness checks
forgebox exposes at its /ready and /live endpoints (wired by pkg/metrics).

A Checker is anything that can report a Result for one dependency: the
Docker daemon (docker provisioning mode only) or the workspace registry
itself. forgebox carries no container-level health-check scheduling: there
are no user services running inside a workspace whose liveness needs
polling, a workspace is a sandbox a caller drives directly, not a
long-running service forgebox supervises.

# Status tracking

Status accumulates consecutive Check results against a Config's Retries
threshold, so a single transient failure (a daemon hiccup mid-poll)
doesn't flip a component unhealthy; cmd/forgebox's monitorComponent
loop holds one Status per monitored component and only republishes a
changed Healthy value once Retries consecutive failures (or the first
success) have been observed.

	checker := health.NewDockerChecker(dockerClient)
	status := health.NewStatus()
	config := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, config)
	metrics.UpdateComponent("docker", status.Healthy, result.Message)
*/
package health
