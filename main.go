package main

import "webmonitor/cmd"

func main() {
	cmd.Execute()
}
