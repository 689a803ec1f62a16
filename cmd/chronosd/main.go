// Command chronosd runs the CHRONOS job scheduling engine: schema
// migration and the poll/claim/execute worker loop, both driven through
// the chronosd CLI.
package main

import "github.com/akshat111/CHRONOS/cmd/chronosd/cli"

func main() {
	cli.Execute()
}
