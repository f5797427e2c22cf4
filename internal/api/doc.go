// Package api is the typed REST client for the CMS SDK endpoints.
//
// Every call is authenticated with a bearer token except [Client.Authenticate],
// goes through an otelhttp transport and waits on a shared rate limiter so a
// burst of cache misses cannot flood the CMS.
package api
