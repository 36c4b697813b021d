package models

import "time"

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

const (
	StatusAvailable = "Available"
	StatusBorrowed  = "Borrowed"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"` // "member" or "admin"
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SessionUser is the identity carried in the session cookie and passed to the
// lifecycle manager as the acting user.
type SessionUser struct {
	ID       int64
	Username string
	Role     string
}

func (u SessionUser) IsAdmin() bool { return u.Role == RoleAdmin }

type Book struct {
	ID               int64   `db:"id" json:"id"`
	Title            string  `db:"title" json:"title"`
	Author           string  `db:"author" json:"author"`
	Status           string  `db:"status" json:"status"`
	BorrowedByUserID *int64  `db:"borrowed_by_user_id" json:"borrowed_by_user_id,omitempty"`
	DueDate          *string `db:"due_date" json:"due_date,omitempty"` // YYYY-MM-DD
	BorrowerUsername *string `db:"borrower_username" json:"borrower_username,omitempty"`

	// Fine is computed at read time for overdue books, never persisted.
	Fine int64 `db:"-" json:"fine,omitempty"`
}

func (b *Book) Borrowed() bool { return b.Status == StatusBorrowed }
