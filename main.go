package main

import (
	"log"
	"os"

	"github.com/TFMV/codeclean/cmd"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("codeclean: ")

	// Set up a deferred function to recover from panics.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	if err := cmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
