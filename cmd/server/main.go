package main

import "github.com/Brownie44l1/imagenet-api/internal/cli"

func main() {
	cli.Execute()
}
