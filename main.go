package main

import "github.com/gutoaeraphe/roteirista-pro-app-sub000/cli"

func main() {
	cli.Execute()
}
