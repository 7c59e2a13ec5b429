package todo

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	xerrors "TaskPilot/internal/errors"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// SQLConfig 描述关系型任务存储的连接参数。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLStore 基于 database/sql 保存任务，支持 MySQL 与 SQLite。
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLStore 打开数据库并执行内嵌迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务存储驱动: "+cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务存储 DSN 不能为空")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开任务数据库失败")
	}
	configurePool(db, driver, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到任务数据库")
	}
	if err := migrateSchema(ctx, db, driver, embeddedMigrations); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化任务表失败")
	}
	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

func configurePool(db *sql.DB, driver string, cfg SQLConfig) {
	// SQLite 只允许单写者。
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

const selectColumns = `SELECT id, user_id, title, description, priority, is_completed, created_at, updated_at FROM todo_tasks`

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	const stmt = `INSERT INTO todo_tasks
        (id, user_id, title, description, priority, is_completed, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		task.ID.String(),
		task.UserID.String(),
		task.Title,
		task.Description,
		string(task.Priority),
		task.IsCompleted,
		task.CreatedAt.UnixNano(),
		task.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id.String())
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// FindByTitle 返回标题完全匹配的任务，最新创建的在前。
func (s *SQLStore) FindByTitle(ctx context.Context, userID uuid.UUID, title string) ([]*Task, error) {
	query := selectColumns + ` WHERE title = ?`
	args := []any{strings.TrimSpace(title)}
	if userID != uuid.Nil {
		query += ` AND user_id = ?`
		args = append(args, userID.String())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return s.queryTasks(ctx, query, args...)
}

// List 返回满足过滤条件的任务，按创建时间倒序。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := selectColumns
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, opts.Limit)
	return s.queryTasks(ctx, query, args...)
}

// Update 写回任务的可变字段。
func (s *SQLStore) Update(ctx context.Context, task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	task.UpdatedAt = s.now().UTC()

	const stmt = `UPDATE todo_tasks SET title = ?, description = ?, priority = ?, is_completed = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		task.Title,
		task.Description,
		string(task.Priority),
		task.IsCompleted,
		task.UpdatedAt.UnixNano(),
		task.ID.String(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Delete 删除任务。
func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todo_tasks WHERE id = ?`, id.String())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除任务失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task               Task
		id, userID         string
		priority           string
		createdAt, updated int64
	)
	if err := row.Scan(&id, &userID, &task.Title, &task.Description, &priority, &task.IsCompleted, &createdAt, &updated); err != nil {
		return nil, err
	}
	var err error
	if task.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if task.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	task.Priority = Priority(priority)
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updated).UTC()
	return &task, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if opts.UserID != uuid.Nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID.String())
	}
	switch opts.Status {
	case StatusCompleted:
		conditions = append(conditions, "is_completed = ?")
		args = append(args, true)
	case StatusPending:
		conditions = append(conditions, "is_completed = ?")
		args = append(args, false)
	}
	if opts.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(opts.Query)) + "%"
		conditions = append(conditions, "(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(description) LIKE ? ESCAPE '!')")
		args = append(args, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

// likeEscaper 让查询中的 % 与 _ 按字面匹配。MySQL 字符串里的反斜杠本身是转义符，
// 因此两种方言统一使用 '!'。
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// isDuplicateKey 识别 MySQL 1062 与 SQLite 约束冲突。
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		// SQLITE_CONSTRAINT 的扩展错误码低 8 位均为 19。
		return sqliteErr.Code()&0xff == 19
	}
	return false
}

var _ Store = (*SQLStore)(nil)
