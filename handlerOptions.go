package cwlogs

import (
	"log/slog"
)

// HandlerOptions are used to customize the slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// approach used in the standard library for `HandlerOptions`.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler assumes
	// LevelInfo. The handler calls Level.Level for each record processed; to
	// adjust the minimum level dynamically, use a LevelVar.
	Level slog.Leveler

	// Format selects how each record is rendered into the event message:
	// "json" (slog.JSONHandler) or "text" (slog.TextHandler). The default is
	// "json", which CloudWatch Logs Insights parses into fields.
	Format string

	// AddSource causes the handler to compute the source code position of the
	// log statement and add a SourceKey attribute to the output.
	AddSource bool

	// ReplaceAttr is passed through to the underlying slog handler.
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	FormatJSON = "json"
	FormatText = "text"
)

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// resolve ensures that all options have valid values.
func (o *HandlerOptions) resolve() {

	// set default log level if not provided
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	// only [json|text]
	if o.Format != FormatJSON && o.Format != FormatText {
		if len(o.Format) > 0 {
			InternalLogger().Printf("HandlerOptions.Format %q is invalid; using %q\n", o.Format, FormatJSON)
		}
		o.Format = FormatJSON
	}
}
