// Package conda provisions GTDB-Tk inside a named conda environment and
// runs programs in it.
//
// This package handles:
//   - Detecting the environment via `conda env list --json`
//   - Creating it from pinned packages and channels (`conda create`)
//   - Removing it (`conda env remove`)
//   - Querying the installed tool version through `conda run`
//   - Running pipeline stages through `conda run --no-capture-output`
//
// conda is invoked with argument vectors through command.Runner; the
// environment is activated by `conda run` rather than by sourcing an
// activation script in a shell.
package conda
