// Package app composes the journey services from configuration.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	└── storage/            # Backend contract and implementations
//	    ├── interfaces.go   # Backend (progress rows and topic answers)
//	    ├── memory.go       # In-memory backend for tests and local runs
//	    └── postgres/       # Direct PostgreSQL backend
//
// The Supabase backend lives with the motivation service in
// services/motivation/supabase because it is built on the shared
// internal/database client.
//
// # Backend selection
//
// PROGRESS_STORE picks the backend:
//
//   - supabase: PostgREST through internal/database (default)
//   - postgres: direct connection with sqlx and lib/pq
//   - memory:   process local, refused in production
//
// # Lifecycle
//
//	application, err := app.New(ctx, cfg, logger)
//	if err != nil { ... }
//	defer application.Close()
//
// Close releases the store connection and the Redis client.
package app
