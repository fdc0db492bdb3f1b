package main

import "epubslim/cmd"

func main() {
	cmd.Execute()
}
