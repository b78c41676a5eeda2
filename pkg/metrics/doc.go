/*
Package metrics exposes forgebox's Prometheus collectors and the HTTP
handlers that serve them, scoped to the gateway's own workspace lifecycle:

  - forgebox_workspaces_active, a gauge tracking how many workspaces the
    Registry currently holds
  - forgebox_provision_duration_seconds, a histogram around
    Provisioner.Provision
  - forgebox_image_cache_hits_total, a counter vec of imagecache probes by
    "hit"/"miss"
  - forgebox_commands_total, a counter vec of gateway-delegated commands by
    "ok"/"failed"

# Readiness and liveness

RegisterComponent/UpdateComponent feed a small in-process HealthChecker
that backs two endpoints cmd/forgebox mounts alongside /metrics:

  - /ready (ReadyHandler) reports only RequireComponent'd critical
    components ("registry" always, plus "docker" when running in docker
    provisioning mode) and answers 503 until all of them are healthy
  - /live (LivenessHandler) always answers 200 while the process is up

HealthHandler reports every registered component; cmd/forgebox does not
mount it, and its /health path is served by internal/httpapi instead.

cmd/forgebox's monitorComponent loop is what calls UpdateComponent, after
running each check through a pkg/health.Status so a single blip doesn't
flip a workspace-serving process unready.
*/
package metrics
