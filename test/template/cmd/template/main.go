package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
	"github.com/palantir/compute-module-dataset-catalog/pkg/loader"
	"github.com/palantir/compute-module-dataset-catalog/test/template/questions"
)

func main() {
	cardPath := flag.String("card", "", "Card YAML file")
	dir := flag.String("dir", ".", "Directory holding <split>.json files")
	split := flag.String("split", "train", "Split name")
	flag.Parse()

	c, err := card.LoadFile(*cardPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ld := &loader.Loader{ManualDir: *dir, Sources: map[string]loader.Source{c.Identifier: questions.Source{}}}
	r, err := ld.Open(context.Background(), c, "", *split, loader.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	if err := r.Each(context.Background(), func(ex loader.Example) error { return enc.Encode(ex) }); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
