// Package studio provides the public API for embedding the storefront studio.
// This is the stable API for external consumers.
package studio

import (
	"github.com/tjfontaine/storefront-studio/internal/runtime"
)

// Studio is the assembled studio service.
// See internal/runtime.Studio for full documentation.
type Studio = runtime.Studio

// Option is a functional option for configuring a Studio.
type Option = runtime.Option

// New creates a new Studio with the given options.
// Example:
//
//	st, err := studio.New(
//	    studio.WithFileConfig("config.yaml"),
//	    studio.WithSQLite("./data/studio.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithMemoryStorage = runtime.WithMemoryStorage
	WithStorage       = runtime.WithStorage

	// Collaborators
	WithAssistant         = runtime.WithAssistant
	WithShopBackend       = runtime.WithShopBackend
	WithCompletionHandler = runtime.WithCompletionHandler

	WithLogger = runtime.WithLogger
)
