package main

import (
	"fmt"
	"os"

	"github.com/ydb-platform/ydb-go-topic/cmd/ydbtopic-top/internal/app"
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
