package main

import "fleet-rollout/internal/cli"

func main() {
	cli.Execute()
}
