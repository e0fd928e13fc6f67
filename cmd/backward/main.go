// Command backward rebuilds a forward-ordered model as a backward
// model in a new directory (spec §4.5.3, §6 CLI surface
// "backward --ngram PATH --output PATH").
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "forward model directory to read")
	outputPath := flag.String("output", "", "backward model directory to write")
	shard := flag.Int("shard", -1, "unused: the pipeline always walks every shard concurrently")
	temporary := flag.String("temporary", "", "staging directory for the offline trie assembly (overrides TMPDIR_SPEC)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" || *outputPath == "" {
		glog.Error("backward: --ngram and --output are required")
		os.Exit(1)
	}
	if *temporary != "" {
		os.Setenv("TMPDIR_SPEC", *temporary)
	}
	if *shard >= 0 {
		glog.Warningf("backward: --shard is accepted for CLI parity but ignored; every shard is rebuilt")
	}
	if *debug {
		glog.Infof("backward: %s -> %s", *ngramPath, *outputPath)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("backward: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	out, err := expgram.RunBackwardPipeline(context.Background(), m, *outputPath)
	if err != nil {
		glog.Errorf("backward: %v", err)
		os.Exit(1)
	}
	defer out.Close()
}
