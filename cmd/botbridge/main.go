// Command botbridge serves the bot-defense channel to a host application.
package main

import "github.com/Sentinel-Gate/botbridge/cmd/botbridge/cmd"

func main() {
	cmd.Execute()
}
