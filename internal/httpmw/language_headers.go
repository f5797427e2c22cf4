package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LanguageInfo reports the engine's effective content language.
type LanguageInfo interface {
	Language() string
}

// LanguageHeaders sets Content-Language to the language the response was
// resolved in and tags the span with it.
func LanguageHeaders(info LanguageInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if lang := info.Language(); lang != "" {
					w.Header().Set("Content-Language", lang)
					if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
						span.SetAttributes(attribute.String("contentsync.language", lang))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
