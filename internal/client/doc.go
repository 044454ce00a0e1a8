// Package client is the entry point for applications: it runs queries and
// transactions against a deployment and keeps watched queries up to date.
//
//	c, err := client.New("https://happy-animal-123.convex.cloud")
//	...
//	dispose := c.Query("listMessages").Watch(args, func(v any) { ... })
//	defer dispose()
package client
