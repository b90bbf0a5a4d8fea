package main

import "github.com/CosmoTheDev/scangate/cmd"

func main() {
	cmd.Execute()
}
