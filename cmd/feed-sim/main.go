package main

import (
	"os"

	"github.com/okian/racefeed/internal/feedsim"
)

func main() {
	if err := feedsim.NewRootCommand().Execute(); err != nil {
		os.Stderr.WriteString("feed-sim: " + err.Error() + "\n")
		os.Exit(1)
	}
}
