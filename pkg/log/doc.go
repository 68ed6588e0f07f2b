/*
Package log provides rcynic's structured logging on top of zerolog.

A single global zerolog.Logger is configured once via Init, then every
package asks for a named child logger with WithComponent. The six-level
scheme (log_sys_err .. log_debug) mirrors spec.md's configuration option
of the same name; Rejected and Accepted emit the exact line shapes the
validation-status contract requires.
*/
package log
