// Package migrations 内嵌各数据库方言的表结构迁移，由 goose 执行。
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed postgres/*.sql mysql/*.sql sqlite/*.sql
var files embed.FS

// 支持的迁移命令
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandStatus  = "status"
	CommandVersion = "version"
)

// goose 的配置是包级全局状态
var gooseMu sync.Mutex

type dialect struct {
	goose string
	dir   string
}

var dialects = map[string]dialect{
	"postgres": {goose: "postgres", dir: "postgres"},
	"mysql":    {goose: "mysql", dir: "mysql"},
	"sqlite":   {goose: "sqlite3", dir: "sqlite"},
}

// Run 在 db 上执行一条迁移命令，driver 取值与 sqlstore 的驱动名一致。
func Run(ctx context.Context, db *sql.DB, driver, command string, log *zap.Logger) error {
	d, ok := dialects[driver]
	if !ok {
		return fmt.Errorf("unsupported migration driver: %s", driver)
	}
	if log == nil {
		log = zap.NewNop()
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(files)
	goose.SetLogger(gooseLogger{log.Sugar()})
	if err := goose.SetDialect(d.goose); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	var err error
	switch command {
	case CommandUp:
		err = goose.UpContext(ctx, db, d.dir)
	case CommandDown:
		err = goose.DownContext(ctx, db, d.dir)
	case CommandStatus:
		err = goose.StatusContext(ctx, db, d.dir)
	case CommandVersion:
		err = goose.VersionContext(ctx, db, d.dir)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	log.Info("migration finished", zap.String("driver", driver), zap.String("command", command))
	return nil
}

// gooseLogger 把 goose 的输出转到 zap
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.sugar.Infof(format, v...) }

// Fatalf 只记录错误，不退出进程，错误本身会由 goose 返回。
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }
