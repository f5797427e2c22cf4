// Package contentsync is a client for a headless CMS. It authenticates a
// project, keeps translations, colors, images and data store records cached
// and fresh through a realtime change feed, and lets callers bind values to
// reference strings that update themselves.
//
// A Client is constructed explicitly and passed to whatever needs it:
//
//	c, err := contentsync.New(contentsync.Options{BaseURL: "https://cms.example.com"})
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Configure(ctx, contentsync.Config{ProjectID: id, APIKey: key}); err != nil { ... }
//	title := c.Translation("title", "home")
//
// Getters never block on the network. They return the cached value or a
// fallback and schedule a background sync when the scope is not cached.
package contentsync
