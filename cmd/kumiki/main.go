package main

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/zurustar/kumiki/pkg/app"
)

//go:embed programs
var embeddedPrograms embed.FS

func main() {
	programs, err := fs.Sub(embeddedPrograms, "programs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	application := app.New(programs)
	if err := application.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
