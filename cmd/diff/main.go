// Command diff structurally compares two model directories, SPEC_FULL.md's
// supplemented diff feature (spec §6 CLI surface "diff --ngram PATH
// --output PATH", here --output names the second model to compare
// against since diff has no output directory of its own).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "first model directory to read")
	outputPath := flag.String("output", "", "second model directory to compare against")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" || *outputPath == "" {
		glog.Error("diff: --ngram and --output are required")
		os.Exit(1)
	}

	a, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("diff: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	b, err := expgram.LoadModel(*outputPath)
	if err != nil {
		glog.Errorf("diff: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	discrepancies := expgram.Diff(a, b)
	if *debug {
		glog.Infof("diff: %d discrepancies", len(discrepancies))
	}
	for _, d := range discrepancies {
		fmt.Printf("shard=%d kind=%s %s\n", d.Shard, d.Kind, d.Detail)
	}
	if len(discrepancies) > 0 {
		os.Exit(1)
	}
}
