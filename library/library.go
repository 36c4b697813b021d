// Package library owns the book lifecycle: the Available/Borrowed state
// machine, its authorization rules, and read-time fine computation.
package library

import (
	"errors"
	"fmt"
	"time"

	"shelfmark/db"
	"shelfmark/logger"
	"shelfmark/models"
)

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrAlreadyBorrowed   = errors.New("book is already borrowed")
	ErrNotBorrowed       = errors.New("book is not borrowed")
	ErrNotOwner          = errors.New("not authorized to return this book")
	ErrAdminCannotBorrow = errors.New("admins cannot borrow books")
	ErrBookBorrowed      = errors.New("book is currently borrowed")
)

const (
	// LoanDays is the loan period in calendar days.
	LoanDays = 30
	// FinePerDay is the flat daily penalty for overdue books.
	FinePerDay = 5
)

// Manager is the book lifecycle manager. The clock is injectable so tests can
// pin "today".
type Manager struct {
	db  *db.DB
	now func() time.Time
}

func NewManager(d *db.DB) *Manager {
	return &Manager{db: d, now: time.Now}
}

// Borrow moves an Available book to Borrowed on behalf of actor, setting the
// due date LoanDays from today. Admins are categorically barred from
// borrowing. The transition is a single conditional update, so two concurrent
// borrows of the same book cannot both succeed.
func (m *Manager) Borrow(bookID int64, actor models.SessionUser) error {
	if actor.IsAdmin() {
		return ErrAdminCannotBorrow
	}

	due := m.today().AddDate(0, 0, LoanDays).Format(db.DateLayout)
	ok, err := m.db.MarkBorrowed(bookID, actor.ID, due)
	if err != nil {
		return fmt.Errorf("borrow book %d: %w", bookID, err)
	}
	if !ok {
		book, err := m.db.GetBook(bookID)
		if err != nil {
			return fmt.Errorf("borrow book %d: %w", bookID, err)
		}
		if book == nil {
			return ErrBookNotFound
		}
		return ErrAlreadyBorrowed
	}

	logger.Log.Infow("book borrowed", "book_id", bookID, "user_id", actor.ID, "due_date", due)
	return nil
}

// Return moves a Borrowed book back to Available, clearing borrower and due
// date. Members may only return their own loans; admins may return any book.
func (m *Manager) Return(bookID int64, actor models.SessionUser) error {
	var borrower *int64
	if !actor.IsAdmin() {
		borrower = &actor.ID
	}

	ok, err := m.db.MarkReturned(bookID, borrower)
	if err != nil {
		return fmt.Errorf("return book %d: %w", bookID, err)
	}
	if !ok {
		book, err := m.db.GetBook(bookID)
		if err != nil {
			return fmt.Errorf("return book %d: %w", bookID, err)
		}
		if book == nil {
			return ErrBookNotFound
		}
		if !actor.IsAdmin() {
			// Either not borrowed at all or borrowed by someone else.
			return ErrNotOwner
		}
		return ErrNotBorrowed
	}

	logger.Log.Infow("book returned", "book_id", bookID, "user_id", actor.ID)
	return nil
}

// AddBook creates an Available book. Admin-only, enforced at the routing
// layer.
func (m *Manager) AddBook(title, author string) (int64, error) {
	id, err := m.db.InsertBook(title, author)
	if err != nil {
		return 0, fmt.Errorf("add book: %w", err)
	}
	return id, nil
}

// EditBook mutates title and author only; loan state is untouched.
func (m *Manager) EditBook(bookID int64, title, author string) error {
	ok, err := m.db.UpdateBook(bookID, title, author)
	if err != nil {
		return fmt.Errorf("edit book %d: %w", bookID, err)
	}
	if !ok {
		return ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book, but only while it is Available: deleting an
// active loan out from under its borrower is forbidden.
func (m *Manager) DeleteBook(bookID int64) error {
	ok, err := m.db.DeleteIfAvailable(bookID)
	if err != nil {
		return fmt.Errorf("delete book %d: %w", bookID, err)
	}
	if !ok {
		book, err := m.db.GetBook(bookID)
		if err != nil {
			return fmt.Errorf("delete book %d: %w", bookID, err)
		}
		if book == nil {
			return ErrBookNotFound
		}
		return ErrBookBorrowed
	}
	return nil
}

// GetBook fetches a single book for display (admin edit form). Returns
// ErrBookNotFound when missing.
func (m *Manager) GetBook(bookID int64) (*models.Book, error) {
	book, err := m.db.GetBook(bookID)
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", bookID, err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}
	return book, nil
}

// Catalog returns the full catalog plus the subsequence borrowed by actor,
// with fines computed for overdue loans. Admins have no personal subset.
func (m *Manager) Catalog(actor models.SessionUser) (all, mine []models.Book, err error) {
	all, err = m.db.ListBooks()
	if err != nil {
		return nil, nil, fmt.Errorf("list books: %w", err)
	}

	today := m.today()
	for i := range all {
		all[i].Fine = Fine(all[i].DueDate, today)
	}

	if actor.IsAdmin() {
		return all, nil, nil
	}
	for _, b := range all {
		if b.BorrowedByUserID != nil && *b.BorrowedByUserID == actor.ID {
			mine = append(mine, b)
		}
	}
	return all, mine, nil
}

// Fine computes the overdue penalty for a due date at day granularity:
// daysLate * FinePerDay once today is past the due date, 0 otherwise.
func Fine(dueDate *string, today time.Time) int64 {
	if dueDate == nil {
		return 0
	}
	due, err := time.ParseInLocation(db.DateLayout, *dueDate, time.UTC)
	if err != nil {
		return 0
	}
	daysLate := int64(today.Sub(due).Hours() / 24)
	if daysLate <= 0 {
		return 0
	}
	return daysLate * FinePerDay
}

// today truncates the clock to calendar-day granularity, consistent with the
// stored due dates.
func (m *Manager) today() time.Time {
	y, mo, d := m.now().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
