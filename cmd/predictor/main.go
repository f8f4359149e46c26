package main

import "github.com/estate-predictor/backend/internal/cli"

func main() {
	cli.Execute()
}
