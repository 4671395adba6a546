package main

import (
	"github.com/joho/godotenv"

	"market-intel/internal/cli"
)

func main() {
	// A missing .env file is not an error; real environment variables win.
	_ = godotenv.Load()
	cli.Execute()
}
