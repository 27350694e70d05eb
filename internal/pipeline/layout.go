package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
)

// Names holds the directory names and genome extension that make up the
// on-disk layout.
type Names struct {
	// Bins is the genome subdirectory of the input directory.
	Bins string `json:"bins" yaml:"bins"`

	// Identify, Align and Classify are the stage output subdirectories
	// of the output directory.
	Identify string `json:"identify" yaml:"identify"`
	Align    string `json:"align" yaml:"align"`
	Classify string `json:"classify" yaml:"classify"`

	// Extension is the genome file extension without the leading dot.
	Extension string `json:"extension" yaml:"extension"`
}

// DefaultNames returns the layout used by the binning workflow upstream
// of this tool.
func DefaultNames() Names {
	return Names{
		Bins:      "Refined_bins",
		Identify:  "Refined_identify",
		Align:     "Refined_align",
		Classify:  "Refined_classify",
		Extension: "fa",
	}
}

// Validate checks that every name is a single, non-empty path element.
func (n Names) Validate() error {
	for field, v := range map[string]string{
		"bins": n.Bins, "identify": n.Identify, "align": n.Align, "classify": n.Classify,
	} {
		if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
			return fmt.Errorf("invalid %s directory name %q: must be a single path element", field, v)
		}
	}
	if n.Extension == "" || strings.ContainsAny(n.Extension, `/\*?[`) {
		return fmt.Errorf("invalid genome extension %q", n.Extension)
	}
	return nil
}

// Layout holds the absolute paths consumed and produced by a run.
type Layout struct {
	InputDir    string `json:"inputDir"`
	OutputDir   string `json:"outputDir"`
	BinsDir     string `json:"binsDir"`
	IdentifyDir string `json:"identifyDir"`
	AlignDir    string `json:"alignDir"`
	ClassifyDir string `json:"classifyDir"`

	// Extension is the genome file extension without the leading dot.
	Extension string `json:"extension"`
}

// NewLayout resolves inputDir and outputDir to absolute paths and derives
// the genome and stage directories from names.
func NewLayout(inputDir, outputDir string, names Names) (Layout, error) {
	if err := names.Validate(); err != nil {
		return Layout{}, err
	}

	in, err := filepath.Abs(inputDir)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve input directory %q: %w", inputDir, err)
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve output directory %q: %w", outputDir, err)
	}

	return Layout{
		InputDir:    in,
		OutputDir:   out,
		BinsDir:     filepath.Join(in, names.Bins),
		IdentifyDir: filepath.Join(out, names.Identify),
		AlignDir:    filepath.Join(out, names.Align),
		ClassifyDir: filepath.Join(out, names.Classify),
		Extension:   names.Extension,
	}, nil
}

// StageDirs returns the three stage output directories in stage order.
func (l Layout) StageDirs() []string {
	return []string{l.IdentifyDir, l.AlignDir, l.ClassifyDir}
}

// DiscoverGenomes returns the genome files in BinsDir, sorted by name.
//
// Returns a model.CLIError with ExitInputNotFound if BinsDir is missing or
// not a directory, and ExitNoGenomes if it holds no file with the genome
// extension. Subdirectories and hidden entries (such as macOS "._" files)
// whose names happen to match are ignored.
func (l Layout) DiscoverGenomes() ([]string, error) {
	info, err := os.Stat(l.BinsDir)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", l.BinsDir)
		}
		return nil, model.WrapCLIError(model.ExitInputNotFound,
			fmt.Sprintf("%s directory not found", l.BinsDir), err)
	}

	// os.ReadDir rather than filepath.Glob, so that glob metacharacters
	// in the directory path are not interpreted.
	entries, err := os.ReadDir(l.BinsDir)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInputNotFound,
			fmt.Sprintf("failed to read %s", l.BinsDir), err)
	}

	suffix := "." + l.Extension
	var genomes []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		genomes = append(genomes, filepath.Join(l.BinsDir, e.Name()))
	}

	if len(genomes) == 0 {
		return nil, model.NewCLIError(model.ExitNoGenomes,
			fmt.Sprintf("no %s files found in %s", suffix, l.BinsDir))
	}
	return genomes, nil
}

// Prepare creates the stage output directories, including missing parents.
// Existing directories are left as they are.
func (l Layout) Prepare() error {
	for _, dir := range l.StageDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				err = fmt.Errorf("%s exists and is not a directory: %w", dir, err)
			}
			return model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("failed to create output directory %s", dir), err)
		}
	}
	return nil
}
