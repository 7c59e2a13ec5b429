package todo

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"TaskPilot/deploy/migrations"
)

var embeddedMigrations fs.FS = migrations.Files

const migrationLedgerDDL = `CREATE TABLE IF NOT EXISTS todo_schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at BIGINT NOT NULL
)`

// schemaDialect 描述迁移在不同数据库上的差异。
//
// SQLite 的 DDL 可以放进事务，一个迁移文件要么全部生效要么全部回滚。
// MySQL 遇到 DDL 会隐式提交，只能逐条执行；中途失败后重跑时，
// 已经建好的表和索引按"已存在"处理。
type schemaDialect struct {
	driver           string
	transactionalDDL bool
}

func dialectFor(driver string) schemaDialect {
	if driver == DriverMySQL {
		return schemaDialect{driver: DriverMySQL}
	}
	return schemaDialect{driver: DriverSQLite, transactionalDDL: true}
}

// prepare 按方言改写语句。SQLite 支持 CREATE INDEX IF NOT EXISTS，MySQL 不支持。
func (d schemaDialect) prepare(stmt string) string {
	if d.driver != DriverSQLite {
		return stmt
	}
	upper := strings.ToUpper(stmt)
	if strings.Contains(upper, "IF NOT EXISTS") {
		return stmt
	}
	for _, prefix := range []string{"CREATE INDEX ", "CREATE UNIQUE INDEX "} {
		if strings.HasPrefix(upper, prefix) {
			return stmt[:len(prefix)] + "IF NOT EXISTS " + stmt[len(prefix):]
		}
	}
	return stmt
}

// alreadyApplied 判断错误是否只是对象已存在：1050 表已存在，1061 索引名重复。
func (d schemaDialect) alreadyApplied(err error) bool {
	if d.driver != DriverMySQL {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if !stdErrors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == 1050 || mysqlErr.Number == 1061
}

type migration struct {
	version    string
	name       string
	dialect    string
	statements []string
}

// migrateSchema 把 files 中适用于 driver 且尚未登记的迁移依次应用到 db。
func migrateSchema(ctx context.Context, db *sql.DB, driver string, files fs.FS) error {
	d := dialectFor(driver)
	if _, err := db.ExecContext(ctx, migrationLedgerDDL); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	plan, err := planMigrations(files, d.driver)
	if err != nil {
		return err
	}

	for _, m := range plan {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := d.apply(ctx, db, m); err != nil {
			return fmt.Errorf("迁移 %s 失败: %w", m.name, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM todo_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

func (d schemaDialect) apply(ctx context.Context, db *sql.DB, m migration) error {
	record := func(exec func(context.Context, string, ...any) (sql.Result, error)) error {
		_, err := exec(ctx, `INSERT INTO todo_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UnixMilli())
		return err
	}

	if !d.transactionalDDL {
		for _, stmt := range m.statements {
			if _, err := db.ExecContext(ctx, d.prepare(stmt)); err != nil && !d.alreadyApplied(err) {
				return err
			}
		}
		return record(db.ExecContext)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, d.prepare(stmt)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := record(tx.ExecContext); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// planMigrations 选出适用于 driver 的迁移并按版本排序。
// 文件名形如 0001_name.sql（通用）或 0002_name.mysql.sql（仅限该方言），
// 同一版本同时存在通用与方言专属文件时取后者。
func planMigrations(files fs.FS, driver string) ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[string]migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, dialect := parseMigrationName(name)
		if dialect != "" && dialect != driver {
			continue
		}
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}

		m := migration{version: version, name: name, dialect: dialect, statements: statements}
		if existing, ok := byVersion[version]; ok {
			switch {
			case existing.dialect == "" && dialect != "":
			case existing.dialect != "" && dialect == "":
				continue
			default:
				return nil, fmt.Errorf("迁移版本 %s 重复: %s, %s", version, existing.name, name)
			}
		}
		byVersion[version] = m
	}

	plan := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		plan = append(plan, m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}

// parseMigrationName 从 0002_add_index.mysql.sql 中解析出 "0002" 与 "mysql"。
func parseMigrationName(name string) (version, dialect string) {
	base := strings.TrimSuffix(name, ".sql")
	for _, d := range []string{DriverMySQL, DriverSQLite} {
		if strings.HasSuffix(base, "."+d) {
			base = strings.TrimSuffix(base, "."+d)
			dialect = d
			break
		}
	}
	if idx := strings.IndexRune(base, '_'); idx > 0 {
		return base[:idx], dialect
	}
	return base, dialect
}

// splitStatements 按分号拆分脚本，忽略引号内的分号以及 -- 注释。
func splitStatements(script string) []string {
	var (
		statements []string
		buf        strings.Builder
		quote      rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(buf.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		buf.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			buf.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			buf.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			buf.WriteRune('\n')
		case r == ';':
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return statements
}
