package main

import "github.com/andresmejia3/facemosaic/cmd"

func main() {
	cmd.Execute()
}
