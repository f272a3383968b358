// Package config loads the router configuration.
//
// The configuration lives in next.config.{json,yaml,toml} at the project
// root and is read with viper. Every key can be overridden from the
// environment with the NEXT_ prefix and "_" for nesting, for example
// NEXT_BASEPATH=/docs or NEXT_SERVER_PORT=8080.
//
// # Configuration File Structure
//
//	{
//	  "basePath": "/docs",
//	  "distDir": ".next",
//	  "i18n": { "locales": ["en", "fr"], "defaultLocale": "en" },
//	  "trailingSlash": false,
//	  "experimental": { "caseSensitiveRoutes": false },
//	  "proxyTimeout": "30s",
//	  "middleware": { "script": "middleware.js", "matcher": ["/account/:path*"] },
//	  "redirects": [{ "source": "/old", "destination": "/new", "permanent": true }],
//	  "rewrites": { "beforeFiles": [], "afterFiles": [], "fallback": [] }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.DistPath())
package config
