// Command calendarbridge はGoogleログインとカレンダー委任アクセスのバックエンドを起動する。
//
//	calendarbridge [serve]        APIサーバー
//	calendarbridge worker         ミラー同期・クリーンアップワーカー
//	calendarbridge migrate [down] スキーマ適用（downで1段階戻す）
//	calendarbridge healthcheck    /healthの疎通確認
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/calendarbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
