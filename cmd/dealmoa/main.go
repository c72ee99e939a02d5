// Command dealmoa はディール収集・通知パイプラインとAPIサーバーを起動する。
//
//	dealmoa serve            APIサーバー（デフォルト）
//	dealmoa worker           収集・照合・通知・スイープ
//	dealmoa migrate [up|down [N]|version]
//	dealmoa healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/dealmoa/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
