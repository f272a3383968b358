// Package routematch compiles routing patterns into path matchers.
//
// Two pattern dialects are supported:
//
// Custom route sources (headers, redirects, rewrites, middleware matchers)
// use the path-to-regexp syntax:
//
//	/blog/:slug            → {slug: "hello"}
//	/docs/:path*           → {path: ["a", "b"]} (zero or more segments)
//	/docs/:path+           → {path: ["a", "b"]} (one or more segments)
//	/team/:id(\d{1,})      → custom parameter pattern
//	/old/(.*)              → unnamed group, key "0"
//
// Filesystem routes (pages and app entries) use bracket segments:
//
//	/blog/[slug]           → {slug: "hello"}
//	/docs/[...path]        → {path: ["a", "b"]} (one or more segments)
//	/shop/[[...path]]      → {path: ["a"]} or no key (zero or more segments)
//
// Compiled expressions run on github.com/dlclark/regexp2 so that patterns
// copied from JavaScript build output (lookaheads, named groups) keep their
// meaning.
//
// # Usage
//
//	m, err := routematch.Compile("/blog/:slug", routematch.Options{Strict: true})
//	if err != nil {
//	    return err
//	}
//	params, ok := m.Match("/blog/hello-world")
//	// params["slug"] == "hello-world"
package routematch
