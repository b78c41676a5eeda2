package health

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// FuncChecker adapts a plain function into a Checker, for checks (registry
// liveness, a closure over a gateway) that don't need their own named type.
type FuncChecker struct {
	CheckType CheckType
	Fn        func(ctx context.Context) Result
}

// Check runs the wrapped function.
func (f FuncChecker) Check(ctx context.Context) Result {
	return f.Fn(ctx)
}

// Type returns the configured CheckType.
func (f FuncChecker) Type() CheckType {
	return f.CheckType
}

// NewDockerChecker builds a Checker that pings the Docker daemon, the
// resource docker-mode workspaces actually depend on.
func NewDockerChecker(docker client.APIClient) Checker {
	return FuncChecker{
		CheckType: CheckTypeExec,
		Fn: func(ctx context.Context) Result {
			start := time.Now()
			_, err := docker.Ping(ctx)
			if err != nil {
				return Result{
					Healthy:   false,
					Message:   fmt.Sprintf("docker daemon unreachable: %v", err),
					CheckedAt: start,
					Duration:  time.Since(start),
				}
			}
			return Result{
				Healthy:   true,
				Message:   "docker daemon reachable",
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		},
	}
}

// NewRegistryChecker builds a Checker that is healthy as long as count (a
// gateway's live workspace count) can be read without error.
func NewRegistryChecker(count func() int) Checker {
	return FuncChecker{
		CheckType: CheckTypeExec,
		Fn: func(_ context.Context) Result {
			start := time.Now()
			n := count()
			return Result{
				Healthy:   true,
				Message:   fmt.Sprintf("registry reachable, %d workspace(s) active", n),
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		},
	}
}
