// Command dump prints a shard's trie and columns as a tab-separated
// listing, SPEC_FULL.md's supplemented dump feature (spec §6 CLI
// surface "dump --ngram PATH --shard N").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "model directory to read")
	shard := flag.Int("shard", -1, "shard index to dump (-1 dumps all shards)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" {
		glog.Error("dump: --ngram is required")
		os.Exit(1)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("dump: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	if *shard >= 0 {
		if *shard >= len(m.Shards) {
			glog.Errorf("dump: shard %d out of range (model has %d shards)", *shard, len(m.Shards))
			os.Exit(1)
		}
		fmt.Print(expgram.Dump(m, *shard))
		return
	}

	if *debug {
		glog.Infof("dump: dumping all %d shards", len(m.Shards))
	}
	for idx := range m.Shards {
		fmt.Print(expgram.Dump(m, idx))
	}
}
