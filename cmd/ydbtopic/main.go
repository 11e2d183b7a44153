// Command ydbtopic is a small example CLI demonstrating end-to-end driver
// construction, following the teacher's cmd.Run()/cli.App structure.
package main

import (
	"fmt"
	"os"

	"github.com/ydb-platform/ydb-go-topic/cmd/ydbtopic/internal/app"
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
