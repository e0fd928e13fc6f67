// Command modify recomputes a model's modified-count column in place
// (spec §4.5.2, §6 CLI surface "modify --ngram PATH").
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "model directory to update")
	shard := flag.Int("shard", -1, "unused: the pipeline always walks every shard concurrently")
	temporary := flag.String("temporary", "", "staging directory for atomic column writes (overrides TMPDIR_SPEC)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" {
		glog.Error("modify: --ngram is required")
		os.Exit(1)
	}
	if *temporary != "" {
		os.Setenv("TMPDIR_SPEC", *temporary)
	}
	if *shard >= 0 {
		glog.Warningf("modify: --shard is accepted for CLI parity but ignored; every shard is recomputed")
	}
	if *debug {
		glog.Infof("modify: loading %s", *ngramPath)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("modify: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := expgram.RunModifyPipeline(context.Background(), m); err != nil {
		glog.Errorf("modify: %v", err)
		os.Exit(1)
	}
}
