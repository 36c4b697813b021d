package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"shelfmark/logger"
	"shelfmark/models"
)

// ErrDuplicate marks a uniqueness-constraint violation, e.g. registering a
// username that already exists.
var ErrDuplicate = errors.New("duplicate entry")

// DateLayout is the day-granular format used for due dates.
const DateLayout = "2006-01-02"

type DB struct {
	conn *sqlx.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	// busy_timeout avoids spurious SQLITE_BUSY under concurrent handlers.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.createTables(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE COLLATE NOCASE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Available',
		borrowed_by_user_id INTEGER REFERENCES users(id),
		due_date TEXT
	);
	`
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Reset drops both tables and recreates them empty. All data is lost.
// Demo/test fixture behavior only; gated behind the reset_on_start flag.
func (d *DB) Reset() error {
	if _, err := d.conn.Exec(`DROP TABLE IF EXISTS books; DROP TABLE IF EXISTS users;`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return d.createTables()
}

// SeedBooks is the fixed sample catalog inserted on first run.
var SeedBooks = []struct {
	Title  string
	Author string
}{
	{"1984", "George Orwell"},
	{"Dune", "Frank Herbert"},
	{"The Hobbit", "J.R.R. Tolkien"},
	{"To Kill a Mockingbird", "Harper Lee"},
	{"The Great Gatsby", "F. Scott Fitzgerald"},
	{"Pride and Prejudice", "Jane Austen"},
	{"The Catcher in the Rye", "J.D. Salinger"},
	{"Brave New World", "Aldous Huxley"},
	{"The Lord of the Rings", "J.R.R. Tolkien"},
	{"Animal Farm", "George Orwell"},
}

// Seed inserts the bootstrap admin and the sample catalog, each only when the
// corresponding table is empty. adminPassword must be supplied externally;
// there is no embedded default credential.
func (d *DB) Seed(adminPassword string) error {
	var users int
	if err := d.conn.Get(&users, "SELECT COUNT(*) FROM users"); err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	if users == 0 {
		if adminPassword == "" {
			return errors.New("no admin account exists and no admin password configured (set SHELFMARK_ADMIN_PASSWORD)")
		}
		hash, err := HashPassword(adminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		if _, err := d.CreateUser("admin", hash, models.RoleAdmin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		logger.Log.Infow("seeded admin account", "username", "admin")
	}

	var books int
	if err := d.conn.Get(&books, "SELECT COUNT(*) FROM books"); err != nil {
		return fmt.Errorf("count books: %w", err)
	}

	if books == 0 {
		for _, b := range SeedBooks {
			if _, err := d.InsertBook(b.Title, b.Author); err != nil {
				return fmt.Errorf("seed book %q: %w", b.Title, err)
			}
		}
		logger.Log.Infow("seeded sample catalog", "books", len(SeedBooks))
	}

	return nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (d *DB) CreateUser(username, passwordHash, role string) (int64, error) {
	res, err := d.conn.Exec(
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		username, passwordHash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByUsername returns (nil, nil) when no such user exists. The lookup
// is case-insensitive through the column's NOCASE collation, the same
// collation the uniqueness constraint uses.
func (d *DB) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	err := d.conn.Get(&u,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?",
		username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// GetBook returns (nil, nil) when no such book exists.
func (d *DB) GetBook(id int64) (*models.Book, error) {
	var b models.Book
	err := d.conn.Get(&b,
		"SELECT id, title, author, status, borrowed_by_user_id, due_date FROM books WHERE id = ?",
		id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBooks returns the whole catalog with borrower usernames joined in,
// ordered by id so the seed order is stable.
func (d *DB) ListBooks() ([]models.Book, error) {
	var books []models.Book
	err := d.conn.Select(&books, `
		SELECT b.id, b.title, b.author, b.status, b.borrowed_by_user_id, b.due_date,
		       u.username AS borrower_username
		FROM books b
		LEFT JOIN users u ON b.borrowed_by_user_id = u.id
		ORDER BY b.id`)
	if err != nil {
		return nil, err
	}
	return books, nil
}

func (d *DB) InsertBook(title, author string) (int64, error) {
	res, err := d.conn.Exec("INSERT INTO books (title, author) VALUES (?, ?)", title, author)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateBook mutates title and author only; status, borrower and due date are
// untouched. Reports whether a row matched.
func (d *DB) UpdateBook(id int64, title, author string) (bool, error) {
	res, err := d.conn.Exec("UPDATE books SET title = ?, author = ? WHERE id = ?", title, author, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkBorrowed performs the Available -> Borrowed transition as a single
// conditional update. Reports false when the book is missing or not Available;
// callers classify via GetBook.
func (d *DB) MarkBorrowed(bookID, userID int64, dueDate string) (bool, error) {
	res, err := d.conn.Exec(
		"UPDATE books SET status = ?, borrowed_by_user_id = ?, due_date = ? WHERE id = ? AND status = ?",
		models.StatusBorrowed, userID, dueDate, bookID, models.StatusAvailable)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkReturned performs the Borrowed -> Available transition as a single
// conditional update. When borrowerID is non-nil the update additionally
// requires that user to be the current borrower (member returns); admins pass
// nil and may return any borrowed book.
func (d *DB) MarkReturned(bookID int64, borrowerID *int64) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if borrowerID != nil {
		res, err = d.conn.Exec(
			"UPDATE books SET status = ?, borrowed_by_user_id = NULL, due_date = NULL WHERE id = ? AND status = ? AND borrowed_by_user_id = ?",
			models.StatusAvailable, bookID, models.StatusBorrowed, *borrowerID)
	} else {
		res, err = d.conn.Exec(
			"UPDATE books SET status = ?, borrowed_by_user_id = NULL, due_date = NULL WHERE id = ? AND status = ?",
			models.StatusAvailable, bookID, models.StatusBorrowed)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteIfAvailable removes a book only while it is Available, so an active
// loan can never be silently destroyed.
func (d *DB) DeleteIfAvailable(bookID int64) (bool, error) {
	res, err := d.conn.Exec("DELETE FROM books WHERE id = ? AND status = ?", bookID, models.StatusAvailable)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Password hashing
// ---------------------------------------------------------------------------

// DummyHash is compared against when a login names an unknown user, so the
// response time does not reveal whether the username exists.
var DummyHash = func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("shelfmark-dummy-password"), bcrypt.DefaultCost)
	return string(h)
}()

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
