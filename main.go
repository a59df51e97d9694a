package main

import "github.com/frahmantamala/league-payments/cmd"

func main() {
	cmd.Execute()
}
