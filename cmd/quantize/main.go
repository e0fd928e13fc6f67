// Command quantize replaces a model's float columns with 8-bit codes
// plus per-order codebooks (spec §4.5.4, §6 CLI surface
// "quantize --ngram PATH").
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "model directory to update")
	columns := flag.String("columns", "logprob,backoff,logbound", "comma-separated columns to quantize")
	shard := flag.Int("shard", -1, "unused: the pipeline always walks every shard concurrently")
	temporary := flag.String("temporary", "", "staging directory for atomic column writes (overrides TMPDIR_SPEC)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" {
		glog.Error("quantize: --ngram is required")
		os.Exit(1)
	}
	if *temporary != "" {
		os.Setenv("TMPDIR_SPEC", *temporary)
	}
	if *shard >= 0 {
		glog.Warningf("quantize: --shard is accepted for CLI parity but ignored; every shard is recomputed")
	}
	if *debug {
		glog.Infof("quantize: loading %s", *ngramPath)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("quantize: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	cols := strings.Split(*columns, ",")
	if err := expgram.RunQuantizePipeline(context.Background(), m, cols...); err != nil {
		glog.Errorf("quantize: %v", err)
		os.Exit(1)
	}
}
