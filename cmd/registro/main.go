package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/registro/internal/registrocli"
)

func main() {
	if err := registrocli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, registrocli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr)
			registrocli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
