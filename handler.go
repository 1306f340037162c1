package cwlogs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type ccKey struct{}

// ContextKey is used to extract a log value from context.Context. The value
// must be be `slog.Attr`.
//
//		Example:
//	 	ctx := context.WithValue(ctx, cwlogs.ContextKey,
//	 		slog.Group("req",
//	 			slog.String("method", r.Method),
//	 			slog.String("url", r.URL.String()),
//	 		)
//	 	)
//
// These attrs are added to the record, and are visible to the Classifier.
var ContextKey *ccKey = &ccKey{}

// lineBuffer collects the output of one record from the inner handler. The
// mutex is held from rendering until the line has been handed off.
type lineBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) Write(p []byte) (int, error) { return b.buf.Write(p) }

// Handler is a slog.Handler that renders each record with the standard JSON
// or text handler and writes it as one event to the stream the Writer's
// Classifier picks for the record.
//
//	// Example of basic usage
//	w, err := cwlogs.New("my-service", "default", &cwlogs.Options{
//		Classifier: func(md cwlogs.Metadata) string {
//			if md.Level >= slog.LevelError {
//				return "errors"
//			}
//			return ""
//		},
//	})
//	if err != nil {
//	   log.Fatalln(err)
//	}
//
//	logger := slog.New(cwlogs.NewHandler(w, nil))
//	slog.SetDefault(logger)
type Handler struct {
	*HandlerOptions
	writer *Writer
	line   *lineBuffer
	inner  slog.Handler

	// routing metadata; attrs are the top-level attrs from WithAttrs
	groups []string
	attrs  map[string]string
}

// NewHandler returns a Handler writing through w.
func NewHandler(w *Writer, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	line := &lineBuffer{}
	sopts := &slog.HandlerOptions{
		AddSource:   opts.AddSource,
		Level:       opts.Level,
		ReplaceAttr: opts.ReplaceAttr,
	}

	var inner slog.Handler
	if opts.Format == FormatText {
		inner = slog.NewTextHandler(line, sopts)
	} else {
		inner = slog.NewJSONHandler(line, sopts)
	}

	return &Handler{
		HandlerOptions: opts,
		writer:         w,
		line:           line,
		inner:          inner,
	}
}

func (h *Handler) debug(format string, args ...any) {
	if !h.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

// Enabled reports whether the handler handles records at the given level. The
// handler ignores records whose level is lower.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle renders the record and hands it off as one event. Rendering errors
// are returned; delivery errors are not, since delivery has not happened yet.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {

	// slog.Attrs passed in via the ctx are added to the record
	if ctxAttr, ok := ctx.Value(ContextKey).(slog.Attr); ok {
		r = r.Clone()
		r.AddAttrs(ctxAttr)
	}

	sink := h.writer.MakeWriterFor(h.metadata(r))

	h.line.mu.Lock()
	defer h.line.mu.Unlock()

	h.line.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("failed to render slog record: %w", err)
	}

	if _, err := sink.Write(h.line.buf.Bytes()); err != nil {
		h.debug("failed to hand off record for %s: %v", sink.Destination(), err)
		return err
	}
	return nil
}

// metadata builds the routing metadata for r. Record attrs are only collected
// when there is a Classifier to look at them.
func (h *Handler) metadata(r slog.Record) Metadata {
	md := Metadata{
		Level:  r.Level,
		Logger: strings.Join(h.groups, "."),
	}
	if h.writer.Classifier == nil {
		return md
	}

	md.Attrs = make(map[string]string, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		md.Attrs[k] = v
	}
	if len(h.groups) == 0 {
		r.Attrs(func(a slog.Attr) bool {
			addRouteAttr(md.Attrs, a)
			return true
		})
	}
	return md
}

// addRouteAttr records the string form of a; groups are flattened with dots.
func addRouteAttr(m map[string]string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() != slog.KindGroup {
		if len(a.Key) > 0 {
			m[a.Key] = a.Value.String()
		}
		return
	}
	for _, ga := range a.Value.Group() {
		if len(a.Key) > 0 && len(ga.Key) > 0 {
			ga.Key = a.Key + "." + ga.Key
		}
		addRouteAttr(m, ga)
	}
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {

	// rule: skip if no attrs
	if len(attrs) == 0 {
		return h
	}

	h2 := *h
	h2.inner = h.inner.WithAttrs(attrs)

	// only top-level attrs take part in routing
	if len(h.groups) == 0 {
		h2.attrs = make(map[string]string, len(h.attrs)+len(attrs))
		for k, v := range h.attrs {
			h2.attrs[k] = v
		}
		for _, a := range attrs {
			addRouteAttr(h2.attrs, a)
		}
	}

	return &h2
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups. The group path is the Metadata.Logger seen by
// the Classifier.
//
// If the name is empty, WithGroup returns the receiver.
func (h *Handler) WithGroup(name string) slog.Handler {

	// rule: ignore if name is empty
	if len(name) == 0 {
		return h
	}

	h2 := *h
	h2.inner = h.inner.WithGroup(name)
	h2.groups = append(h.groups[:len(h.groups):len(h.groups)], name)

	return &h2
}
