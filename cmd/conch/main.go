package main

import (
	"os"

	"horse.fit/conch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
