// Package dev runs live mode: it watches the project and republishes the
// route table while files change.
//
// This package implements:
//   - File watching for pages, app routes, public files, the config file
//     and the middleware script
//   - Table rebuilds published to a running routing.Router
//   - A WebSocket endpoint that tells browsers about rebuilds
//
// # Usage
//
//	reload := dev.NewReloadServer(logger)
//	srv, err := dev.NewServer(dev.ServerOptions{
//	    Config: cfg,
//	    Router: rt,
//	    Reload: reload,
//	})
//	if err != nil {
//	    return err
//	}
//	go srv.Start(ctx)
//
// Register HMRPath as a dev virtual item on the router and serve reload as
// the app's dev handler.
//
// # Hot Reload Protocol
//
// The browser connects to /_next/webpack-hmr via WebSocket.
// Messages are JSON-encoded:
//
//	{"action": "sync", "hash": "..."}       // Sent on connect
//	{"action": "building"}                  // Rebuild started
//	{"action": "built", "hash": "..."}      // New table published
//	{"action": "reloadPage"}                // Full page reload
//	{"action": "serverError", "error": "..."} // Rebuild failed
package dev
