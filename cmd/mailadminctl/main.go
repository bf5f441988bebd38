package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
