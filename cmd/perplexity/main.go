// Command perplexity scores a whitespace-tokenized corpus from stdin
// against a model and reports OOV-aware perplexity (SPEC_FULL.md's
// supplemented perplexity feature; spec §6 CLI surface
// "perplexity --ngram PATH").
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/tarowatanabe/expgram"
)

func main() {
	ngramPath := flag.String("ngram", "", "model directory to read")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	defer glog.Flush()

	if *ngramPath == "" {
		glog.Error("perplexity: --ngram is required")
		os.Exit(1)
	}

	m, err := expgram.LoadModel(*ngramPath)
	if err != nil {
		glog.Errorf("perplexity: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	var sentences [][]string
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		sentences = append(sentences, fields)
	}
	if err := sc.Err(); err != nil {
		glog.Errorf("perplexity: reading stdin: %v", err)
		os.Exit(1)
	}

	result := expgram.Perplexity(m, sentences)
	if *debug {
		glog.Infof("perplexity: %d sentences, %d words, %d OOV", result.NumSentences, result.NumWords, result.NumOOV)
	}
	fmt.Printf("%d sents, %d words, %d OOVs\n", result.NumSentences, result.NumWords, result.NumOOV)
	fmt.Printf("logprob=%g logprob_with_oov=%g ppl=%g\n", result.LogProbTotal, result.LogProbWithOOV, result.Perplexity)
}
