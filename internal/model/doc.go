// Package model defines the domain types and value objects for the
// gtdbtk-runner CLI.
//
// This package contains pure data structures with no external dependencies.
// The runner keeps no state between invocations: pipeline stages, package
// pins and backends are transient values built from flags and configuration.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
