// Package cli contains the Cobra commands of cwship, which ships log lines
// from stdin to CloudWatch Logs (or a Fluent, Beats or local store
// transport) and reads local stores back.
package cli
