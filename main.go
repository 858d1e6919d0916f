package main

import "github.com/andresmejia3/facenote/cmd"

func main() {
	cmd.Execute()
}
