package main

import (
	// Embed tzdata in binary.
	_ "time/tzdata"

	"github.com/AdguardTeam/TrackerShield/internal/cmd"
)

func main() {
	cmd.Main()
}
