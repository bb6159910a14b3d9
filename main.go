package main

import "github.com/frahmantamala/affiliate-payouts/cmd"

func main() {
	cmd.Execute()
}
