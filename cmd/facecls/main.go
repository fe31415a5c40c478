package main

import "github.com/MeKo-Tech/facecls/cmd/facecls/cmd"

func main() {
	cmd.Execute()
}
