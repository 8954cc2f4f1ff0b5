package main

import "github.com/wavehq/wavechat/server/cmd"

func main() {
	cmd.Execute()
}
