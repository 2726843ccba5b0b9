package gallows

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SQLiteStorage persists buckets in a SQLite database file.
type SQLiteStorage struct {
	db *sql.DB
}

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS Buckets (Seq INTEGER PRIMARY KEY AUTOINCREMENT, Name TEXT NOT NULL UNIQUE, Created INTEGER NOT NULL)",
	"CREATE TABLE IF NOT EXISTS Pages (Bucket TEXT NOT NULL, Method TEXT NOT NULL, URL TEXT NOT NULL, Status INTEGER NOT NULL, Header TEXT NOT NULL, Body BLOB, Stored INTEGER NOT NULL, PRIMARY KEY (Bucket, Method, URL))",
}

// NewSQLiteStorage opens (or creates) the database at path. ":memory:"
// gives a throwaway database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)

	for _, ddl := range sqliteSchema {
		statement, err := db.Prepare(ddl)
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "prepare schema")
		}
		_, err = statement.Exec()
		statement.Close()
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}

	return &SQLiteStorage{db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO Buckets (Name, Created) VALUES (?, ?)",
		name, time.Now().UnixNano())
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", name)
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Name FROM Buckets ORDER BY Seq")
	if err != nil {
		return nil, errors.Wrap(err, "list buckets")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM Buckets WHERE Name = ?", name)
	if err != nil {
		return false, errors.Wrapf(err, "delete bucket %s", name)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM Pages WHERE Bucket = ?", name); err != nil {
		return false, errors.Wrapf(err, "delete pages of %s", name)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Match(ctx context.Context, req *http.Request) (Page, error) {
	method, key, ok := requestKey(req)
	if !ok {
		return Page{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT p.Method, p.URL, p.Status, p.Header, p.Body, p.Stored
		FROM Pages p JOIN Buckets b ON p.Bucket = b.Name
		WHERE p.Method = ? AND p.URL = ?
		ORDER BY b.Seq LIMIT 1`, method, key)
	return scanPage(row)
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (b *sqliteBucket) Name() string {
	return b.name
}

func (b *sqliteBucket) AddAll(ctx context.Context, pages []Page) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statement, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO Pages VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer statement.Close()

	for _, page := range pages {
		header, err := yaml.Marshal(page.Header)
		if err != nil {
			return errors.Wrapf(err, "encode header of %s", page.URL)
		}
		stored := page.Stored
		if stored.IsZero() {
			stored = time.Now()
		}
		method := page.Method
		if method == "" {
			method = http.MethodGet
		}
		_, err = statement.ExecContext(ctx,
			b.name, method, page.URL, page.Status, string(header), page.Body, stored.UnixNano())
		if err != nil {
			return errors.Wrapf(err, "store %s", page.URL)
		}
	}

	return tx.Commit()
}

func (b *sqliteBucket) Put(ctx context.Context, page Page) error {
	return b.AddAll(ctx, []Page{page})
}

func (b *sqliteBucket) Match(ctx context.Context, req *http.Request) (Page, error) {
	method, key, ok := requestKey(req)
	if !ok {
		return Page{}, ErrNotFound
	}
	row := b.db.QueryRowContext(ctx,
		"SELECT Method, URL, Status, Header, Body, Stored FROM Pages WHERE Bucket = ? AND Method = ? AND URL = ?",
		b.name, method, key)
	return scanPage(row)
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT URL FROM Pages WHERE Bucket = ? ORDER BY rowid", b.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func scanPage(row *sql.Row) (Page, error) {
	var page Page
	var header string
	var stored int64
	err := row.Scan(&page.Method, &page.URL, &page.Status, &header, &page.Body, &stored)
	if err == sql.ErrNoRows {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, err
	}
	if err := yaml.Unmarshal([]byte(header), &page.Header); err != nil {
		return Page{}, errors.Wrapf(err, "decode header of %s", page.URL)
	}
	page.Stored = time.Unix(0, stored)
	return page, nil
}
