// Package pipeline runs the three GTDB-Tk stages over a directory of
// genome bins.
//
// The input directory must contain a genome subdirectory (Refined_bins by
// default) holding at least one file with the genome extension (fa). Three
// output subdirectories are created under the output directory and the
// stages run strictly in sequence:
//
//	identify  --genome_dir <bins>     → <out>/Refined_identify
//	align     --identify_dir identify → <out>/Refined_align
//	classify  --genome_dir <bins> --align_dir align → <out>/Refined_classify
//
// Stages run through a toolenv.Environment, so the same runner drives
// both the conda and the docker backend.
package pipeline
