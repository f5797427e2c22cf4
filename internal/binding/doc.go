// Package binding turns reference strings such as "home:title",
// "color:primary" or "meta:language" into values, and keeps observers of
// those references up to date as content and language change.
package binding
