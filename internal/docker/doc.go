// Package docker provides the container backend for the GTDB-Tk tool
// environment.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Image lifecycle for the pinned GTDB-Tk image: inspect, pull, remove
//   - Running a program in a throwaway container with host paths
//     bind-mounted at identical paths, streaming its logs and returning
//     the exit code
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
