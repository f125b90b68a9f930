package main

import "github.com/jmehdipour/recurring-orders/cmd"

func main() {
	cmd.Execute()
}
