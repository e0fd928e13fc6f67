// Command stat prints per-column byte/entry counters, SPEC_FULL.md's
// supplemented stat feature (spec §2 "Stats/diagnostics", §6 CLI
// surface "stat --ngram PATH").
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
	shard := flag.Int("shard", -1, "shard index to report on (-1 reports all shards)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" {
		glog.Error("stat: --ngram is required")
		os.Exit(1)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("stat: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	if *shard >= len(m.Shards) {
		glog.Errorf("stat: shard %d out of range (model has %d shards)", *shard, len(m.Shards))
		os.Exit(1)
	}

	stats := m.Stats()
	if *debug {
		glog.Infof("stat: %d columns across %d shards", len(stats), len(m.Shards))
	}
	var totalBytes int
	for _, s := range stats {
		if *shard >= 0 && s.Shard != *shard {
			continue
		}
		fmt.Printf("shard=%d column=%s entries=%d bytes=%d quantized=%t\n", s.Shard, s.Name, s.Entries, s.Bytes, s.Quantized)
		totalBytes += s.Bytes
	}
	fmt.Printf("total bytes=%d\n", totalBytes)
}
