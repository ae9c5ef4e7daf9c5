package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/migration"
	"schemasync/internal/schema"
)

func TestPostgresFetchSchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("FROM information_schema.tables").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("post").AddRow("user"))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "udt_name", "is_nullable", "column_default"}).
			AddRow("post", "id", "integer", "int4", "NO", "nextval('post_id_seq'::regclass)").
			AddRow("post", "authorId", "text", "text", "NO", nil).
			AddRow("post", "tags", "ARRAY", "_text", "YES", nil).
			AddRow("user", "id", "text", "text", "NO", nil).
			AddRow("user", "role", "USER-DEFINED", "role", "NO", "'MEMBER'::role").
			AddRow("user", "created_at", "timestamp without time zone", "timestamp", "NO", "CURRENT_TIMESTAMP").
			AddRow("user", "email", "character varying", "varchar", "NO", nil).
			AddRow("ghost", "id", "integer", "int4", "NO", nil))
	mock.ExpectQuery("PRIMARY KEY").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("post", "id").AddRow("user", "id"))
	mock.ExpectQuery("FROM pg_index").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "relname", "indisunique", "attname"}).
			AddRow("post", "post_authorId_idx", false, "authorId").
			AddRow("user", "user_email_key", true, "email"))
	mock.ExpectQuery("FROM pg_constraint").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "relname", "attname", "relname", "attname", "confdeltype", "confupdtype"}).
			AddRow("post_authorId_fkey", "post", "authorId", "user", "id", "c", "a"))
	mock.ExpectQuery("FROM pg_type").WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"typname", "enumlabel"}).
			AddRow("role", "ADMIN").AddRow("role", "MEMBER").AddRow("status", "ACTIVE"))

	got, err := NewPostgres(conn).FetchSchema(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, got.Tables, 2)
	post, user := got.Tables[0], got.Tables[1]

	assert.Equal(t, []schema.Column{
		{Name: "id", Type: "integer", Default: &schema.Default{Kind: schema.DefaultAutoincrement}},
		{Name: "authorId", Type: "text"},
		{Name: "tags", Type: "text[]", Nullable: true},
	}, post.Columns)
	assert.Equal(t, []string{"id"}, post.PrimaryKey)
	assert.Equal(t, []schema.Index{{Name: "post_authorId_idx", Columns: []string{"authorId"}}}, post.Indexes)
	assert.Equal(t, []schema.ForeignKey{{
		Name: "post_authorId_fkey", Columns: []string{"authorId"}, RefTable: "user", RefColumns: []string{"id"}, OnDelete: "CASCADE",
	}}, post.ForeignKeys)

	role, _ := user.Column("role")
	assert.Equal(t, "role", role.Type)
	assert.Equal(t, &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: "MEMBER"}, role.Default)
	created, _ := user.Column("created_at")
	assert.Equal(t, "timestamp", created.Type)
	assert.Equal(t, schema.DefaultNow, created.Default.Kind)
	email, _ := user.Column("email")
	assert.Equal(t, "text", email.Type)
	assert.True(t, email.Unique)

	assert.Equal(t, []schema.Enum{
		{Name: "role", Map: "role", Values: []string{"ADMIN", "MEMBER"}},
		{Name: "status", Map: "status", Values: []string{"ACTIVE"}},
	}, got.Enums)
}

func TestFetchSchemaFailureIsIntrospectionError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	boom := errors.New("permission denied for schema app")
	mock.ExpectQuery("FROM information_schema.tables").WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("user"))
	mock.ExpectQuery("FROM information_schema.columns").WillReturnError(boom)

	got, err := NewPostgres(conn).FetchSchema(context.Background(), "app")
	var ie *IntrospectionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "columns", ie.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, got.Tables)
}

func TestMySQLFetchSchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(`SELECT DATABASE\(\)`).WillReturnRows(sqlmock.NewRows([]string{"db"}).AddRow("app"))
	mock.ExpectQuery("FROM information_schema.tables").WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("user"))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_type", "is_nullable", "column_default", "extra"}).
			AddRow("user", "id", "int unsigned", "NO", nil, "auto_increment").
			AddRow("user", "email", "varchar(191)", "NO", nil, "").
			AddRow("user", "active", "tinyint(1)", "NO", "1", "").
			AddRow("user", "nick", "varchar(50)", "YES", "anon", ""))
	mock.ExpectQuery("PRIMARY KEY").WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).AddRow("user", "id"))
	mock.ExpectQuery("FROM information_schema.statistics").WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "index_name", "non_unique", "column_name"}).AddRow("user", "user_email_key", 0, "email"))
	mock.ExpectQuery("referential_constraints").WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "table_name", "column_name", "referenced_table_name", "referenced_column_name", "delete_rule", "update_rule"}))

	got, err := NewMySQL(conn).FetchSchema(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, got.Tables, 1)
	user := got.Tables[0]
	assert.Equal(t, []schema.Column{
		{Name: "id", Type: "integer", Default: &schema.Default{Kind: schema.DefaultAutoincrement}},
		{Name: "email", Type: "text", Unique: true},
		{Name: "active", Type: "boolean", Default: &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralNumber, Value: "1"}},
		{Name: "nick", Type: "text", Nullable: true, Default: &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: "anon"}},
	}, user.Columns)
	assert.Empty(t, got.Enums)
}

func TestFetchLedger(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	p := NewPostgres(conn)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("_prisma_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	rows, err := p.FetchLedger(context.Background(), "_prisma_migrations")
	require.NoError(t, err)
	assert.Empty(t, rows)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Second)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("_prisma_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM "_prisma_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "checksum", "migration_name", "started_at", "finished_at", "rolled_back_at", "applied_steps_count", "logs"}).
			AddRow("r1", "abc", "20240101000000_init", started, finished, nil, 1, nil).
			AddRow("r2", "def", "20240102000000_next", started, nil, nil, 0, "syntax error"))

	rows, err = p.FetchLedger(context.Background(), "_prisma_migrations")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Applied())
	assert.Equal(t, finished, *rows[0].FinishedAt)
	assert.True(t, rows[1].Failed())
	assert.Equal(t, "syntax error", rows[1].Logs)
}

func TestLedgerWrites(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	p := NewPostgres(conn)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := migration.Record{ID: "r1", Checksum: "abc", MigrationName: "20240101000000_init", StartedAt: now}

	mock.ExpectExec(`INSERT INTO "_prisma_migrations"`).
		WithArgs("r1", "abc", "20240101000000_init", now, nil, nil, 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.InsertLedgerRow(ctx, conn, "_prisma_migrations", rec))

	rec.FinishedAt = &now
	rec.AppliedStepsCount = 2
	mock.ExpectExec(`UPDATE "_prisma_migrations" SET finished_at=\$1`).
		WithArgs(now, 2, nil, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.FinishLedgerRow(ctx, conn, "_prisma_migrations", rec))

	mock.ExpectExec(`SET rolled_back_at`).WithArgs(now, "missing").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Error(t, p.MarkRolledBack(ctx, conn, "_prisma_migrations", "missing", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingRetriesLinearly(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer conn.Close()

	down := errors.New("connection refused")
	mock.ExpectPing().WillReturnError(down)
	mock.ExpectPing().WillReturnError(down)
	mock.ExpectPing()
	require.NoError(t, Ping(context.Background(), conn, "postgres", 3, time.Millisecond))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectPing().WillReturnError(down)
	mock.ExpectPing().WillReturnError(down)
	err = Ping(context.Background(), conn, "postgres", 2, time.Millisecond)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Attempts)
	assert.ErrorIs(t, err, down)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 10, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLinearBackOff(t *testing.T) {
	l := &linear{step: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, l.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, l.NextBackOff())
	l.Reset()
	assert.Equal(t, 100*time.Millisecond, l.NextBackOff())
}

func TestParseDefault(t *testing.T) {
	cases := []struct {
		raw    string
		quoted bool
		want   *schema.Default
	}{
		{"", true, nil},
		{"NULL::character varying", true, nil},
		{"now()", true, &schema.Default{Kind: schema.DefaultNow}},
		{"gen_random_uuid()", true, &schema.Default{Kind: schema.DefaultUUID}},
		{"'it''s'::text", true, &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralString, Value: "it's"}},
		{"(-1)::integer", true, &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralNumber, Value: "-1"}},
		{"false", true, &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralBoolean, Value: "false"}},
		{"lower('X'::text)", true, &schema.Default{Kind: schema.DefaultLiteral, Literal: schema.LiteralOpaque, Value: "lower('X'::text)"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseDefault(tc.raw, tc.quoted), tc.raw)
	}
}

func TestNormalizeProvider(t *testing.T) {
	p, err := NormalizeProvider("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "postgres", p)
	_, err = NormalizeProvider("sqlite")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
