package pipeline

import (
	"fmt"
	"strconv"

	"github.com/shinji-kodama/gtdbtk-runner/internal/model"
)

// StageArgs returns the gtdbtk arguments for stage over layout using cpus
// threads. The flag templates are fixed:
//
//	identify --genome_dir <bins> --out_dir <identify> -x <ext> --cpus <n>
//	align    --identify_dir <identify> --out_dir <align> --cpus <n>
//	classify --genome_dir <bins> --out_dir <classify> --skip_ani_screen -x <ext>
//	         --pplacer_cpus <n> --scratch_dir <classify> --align_dir <align>
func StageArgs(stage model.Stage, l Layout, cpus int) ([]string, error) {
	n := strconv.Itoa(cpus)

	switch stage {
	case model.StageIdentify:
		return []string{
			"identify",
			"--genome_dir", l.BinsDir,
			"--out_dir", l.IdentifyDir,
			"-x", l.Extension,
			"--cpus", n,
		}, nil

	case model.StageAlign:
		return []string{
			"align",
			"--identify_dir", l.IdentifyDir,
			"--out_dir", l.AlignDir,
			"--cpus", n,
		}, nil

	case model.StageClassify:
		return []string{
			"classify",
			"--genome_dir", l.BinsDir,
			"--out_dir", l.ClassifyDir,
			"--skip_ani_screen",
			"-x", l.Extension,
			"--pplacer_cpus", n,
			"--scratch_dir", l.ClassifyDir,
			"--align_dir", l.AlignDir,
		}, nil

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// StageOutputDir returns the directory stage writes into.
func StageOutputDir(stage model.Stage, l Layout) string {
	switch stage {
	case model.StageIdentify:
		return l.IdentifyDir
	case model.StageAlign:
		return l.AlignDir
	case model.StageClassify:
		return l.ClassifyDir
	default:
		return ""
	}
}
