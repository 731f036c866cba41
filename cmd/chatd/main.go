// Command chatd runs the chat server.
package main

import "github.com/getmockd/chatd/pkg/cli"

func main() {
	cli.Execute()
}
