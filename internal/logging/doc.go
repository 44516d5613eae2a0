// Package logging is the daemon's zap setup.
//
// A Logger writes JSON or console entries to stdout (stderr in MCP mode) and,
// when telemetry is on, to the OpenTelemetry log provider through otelzap.
// Entries below error level are sampled; values of credential-like keys and
// strings matching credential patterns are redacted by the encoder.
//
// Logger methods take a context and prepend the correlation fields stored on
// it: trace and span ids, the agent id, the session key and the request id.
//
//	ctx, _ = logging.WithAgentID(ctx, "planner-1")
//	ctx = logging.WithSessionKey(ctx, session.SessionKey("planner-1", query))
//	logger.Info(ctx, "retrieval served", zap.Int("results", n))
//
// Engine packages take a plain *zap.Logger; Component hands them a named one
// and they add ContextFields themselves where a request context is at hand.
package logging
