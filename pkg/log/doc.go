/*
Package log provides structured logging for forgebox using zerolog.

The log package wraps zerolog to give every component a consistent,
scrubbed, structured logger: JSON in production, a readable console
writer in development, and helper constructors that attach the
workspace/repository/command context a caller already has in scope.

# Usage

Initializing the logger, once, in cmd/forgebox:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component and context loggers:

	ctlLog := log.WithComponent("controller.container")
	ctlLog.Debug().Str("container_id", id).Msg("started container")

	wsLog := log.WithWorkspaceID(id)
	wsLog.Info().Msg("workspace created")

Any command or repository URL that reaches a log line must go through
Scrub first (WithCommand and WithRepository already do this); it redacts
"x-access-token:<...>@" credentials embedded by the GitHub App
integration before they can be written anywhere, per the token-scrubbing
invariant every backend controller's logging path must uphold.

# Log Levels

Debug is for backend/controller chatter (every command run, every file
written); Info marks workspace lifecycle events (created, destroyed,
merge request opened); Warn covers recoverable integration failures
(git-hosting unreachable, falling back to a neutral identity); Error is
reserved for request failures surfaced to the HTTP boundary.
*/
package log
