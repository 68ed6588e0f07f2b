/*
Package metrics exposes rcynic's per-run counters as Prometheus counter
vectors, plus a histogram of run durations.

It subscribes to the pkg/rpki/events bus rather than being written to
directly by validators, so the core walk/verify/staging packages stay
free of a Prometheus import — exposition is purely a sink, same as the
XML summary writer.
*/
package metrics
