// Package audit delivers security events off the request path.
//
// [Dispatcher] is a buffered relay with drop-if-full or block-if-full
// semantics in front of a [Sink]. Sinks provided here write to a channel, to
// an io.Writer as JSON lines, or to a slog.Logger.
//
// The package does not decide which events exist; the engine does. It never
// imports the root package.
package audit
