// Package httpmw provides HTTP middleware for the local content API.
//
// Middleware is composed in httpserver.NewHandler, outermost first:
// security headers, recovery, request ID, OTEL tracing, trace headers,
// language headers, metrics, request-scoped logging, access log and the chi
// router.
//
// Query strings and user agents are kept out of logs; the watch and resolve
// endpoints carry binding references there, which are logged by the
// handlers that own them.
package httpmw
