// Package main provides a one-shot utility that mints relay bearer tokens.
package main

import (
	"flag"
	"os"

	"github.com/deskrelay/deskrelay/internal/platform/config"
	"github.com/deskrelay/deskrelay/internal/tools/tokenmint"
)

func main() {
	cfg, err := tokenmint.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := tokenmint.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("mint token: %v", err)
	}
}
