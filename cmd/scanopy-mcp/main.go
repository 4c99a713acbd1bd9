package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCmd(&app{lookup: os.LookupEnv, logOutput: os.Stderr})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
