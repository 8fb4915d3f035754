package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理コンソールのHTTPサーバーを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はセッションストレージのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCleanup は放置セッションの削除を1回だけ実行することを示す。
	CommandCleanup Command = "cleanup"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandMigrate, CommandCleanup, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
