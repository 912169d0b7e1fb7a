package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はユーザー向けと管理者向けのHTTP APIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はキューのスイープと古いデータの削除を定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて結果を終了コードで返す。
	// distrolessイメージにはcurlがないためDockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commands は使い方の表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "run the HTTP API (default)"},
	{CommandWorker, "run the queue sweeper and retention cleanup"},
	{CommandMigrate, "apply database migrations and exit"},
	{CommandHealthcheck, "check the local /health endpoint"},
	{CommandHelp, "show this message"},
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合はCommandServe。-hと--helpはCommandHelpとして扱う。
// 2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if args[0] == string(c.cmd) {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (run \"dailytrio help\" for usage)", args[0])
}

// WriteUsage はサブコマンドの一覧をwに書き出す。
func WriteUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dailytrio [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
