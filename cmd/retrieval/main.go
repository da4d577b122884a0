package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/cmd/retrieval/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
