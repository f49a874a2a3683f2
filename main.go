package main

import "github.com/andresmejia3/facestab/cmd"

func main() {
	cmd.Execute()
}
