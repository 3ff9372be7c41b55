package main

import "github.com/ValentinKolb/kvcore/cmd"

func main() {
	cmd.Execute()
}
