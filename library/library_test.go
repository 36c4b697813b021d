package library

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmark/db"
	"shelfmark/models"
)

// fixture pins the clock to a known date so due dates and fines are exact.
var today = time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *db.DB) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	m := NewManager(d)
	m.now = func() time.Time { return today }
	return m, d
}

func addMember(t *testing.T, d *db.DB, username string) models.SessionUser {
	t.Helper()
	hash, err := db.HashPassword("password123")
	require.NoError(t, err)
	id, err := d.CreateUser(username, hash, models.RoleMember)
	require.NoError(t, err)
	return models.SessionUser{ID: id, Username: username, Role: models.RoleMember}
}

func addAdmin(t *testing.T, d *db.DB) models.SessionUser {
	t.Helper()
	hash, err := db.HashPassword("password123")
	require.NoError(t, err)
	id, err := d.CreateUser("admin", hash, models.RoleAdmin)
	require.NoError(t, err)
	return models.SessionUser{ID: id, Username: "admin", Role: models.RoleAdmin}
}

// requireInvariant checks the core state invariant:
// status = Borrowed <=> borrowed_by set <=> due_date set.
func requireInvariant(t *testing.T, d *db.DB, bookID int64) {
	t.Helper()
	book, err := d.GetBook(bookID)
	require.NoError(t, err)
	require.NotNil(t, book)
	if book.Status == models.StatusBorrowed {
		assert.NotNil(t, book.BorrowedByUserID)
		assert.NotNil(t, book.DueDate)
	} else {
		assert.Equal(t, models.StatusAvailable, book.Status)
		assert.Nil(t, book.BorrowedByUserID)
		assert.Nil(t, book.DueDate)
	}
}

func TestBorrowSetsDueDate(t *testing.T) {
	m, d := newTestManager(t)
	member := addMember(t, d, "alice")
	bookID, err := m.AddBook("Dune", "Frank Herbert")
	require.NoError(t, err)

	require.NoError(t, m.Borrow(bookID, member))
	requireInvariant(t, d, bookID)

	book, err := d.GetBook(bookID)
	require.NoError(t, err)
	require.NotNil(t, book.DueDate)
	assert.Equal(t, "2026-09-29", *book.DueDate) // today + 30 days
	assert.Equal(t, member.ID, *book.BorrowedByUserID)
}

func TestBorrowTwiceFails(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bob := addMember(t, d, "bob")
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	require.NoError(t, m.Borrow(bookID, alice))
	assert.ErrorIs(t, m.Borrow(bookID, bob), ErrAlreadyBorrowed)
	assert.ErrorIs(t, m.Borrow(bookID, alice), ErrAlreadyBorrowed)
	requireInvariant(t, d, bookID)

	// The first borrower is still the borrower.
	book, _ := d.GetBook(bookID)
	assert.Equal(t, alice.ID, *book.BorrowedByUserID)
}

func TestAdminCannotBorrow(t *testing.T) {
	m, d := newTestManager(t)
	admin := addAdmin(t, d)
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	assert.ErrorIs(t, m.Borrow(bookID, admin), ErrAdminCannotBorrow)
	requireInvariant(t, d, bookID)

	// Barred regardless of book state.
	alice := addMember(t, d, "alice")
	require.NoError(t, m.Borrow(bookID, alice))
	assert.ErrorIs(t, m.Borrow(bookID, admin), ErrAdminCannotBorrow)
}

func TestBorrowMissingBook(t *testing.T) {
	m, d := newTestManager(t)
	member := addMember(t, d, "alice")

	assert.ErrorIs(t, m.Borrow(9999, member), ErrBookNotFound)
}

func TestReturnByBorrower(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	require.NoError(t, m.Borrow(bookID, alice))
	require.NoError(t, m.Return(bookID, alice))
	requireInvariant(t, d, bookID)

	book, _ := d.GetBook(bookID)
	assert.Equal(t, models.StatusAvailable, book.Status)
}

func TestReturnByAdmin(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	admin := addAdmin(t, d)
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	require.NoError(t, m.Borrow(bookID, alice))
	require.NoError(t, m.Return(bookID, admin))
	requireInvariant(t, d, bookID)
}

func TestReturnByOtherMemberForbidden(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bob := addMember(t, d, "bob")
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	require.NoError(t, m.Borrow(bookID, alice))
	assert.ErrorIs(t, m.Return(bookID, bob), ErrNotOwner)

	// Still borrowed by alice.
	book, _ := d.GetBook(bookID)
	assert.Equal(t, models.StatusBorrowed, book.Status)
	assert.Equal(t, alice.ID, *book.BorrowedByUserID)
}

func TestReturnEdgeCases(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	admin := addAdmin(t, d)
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	assert.ErrorIs(t, m.Return(9999, alice), ErrBookNotFound)
	assert.ErrorIs(t, m.Return(9999, admin), ErrBookNotFound)

	// Available book: admins get a state conflict, members fail the owner check.
	assert.ErrorIs(t, m.Return(bookID, admin), ErrNotBorrowed)
	assert.ErrorIs(t, m.Return(bookID, alice), ErrNotOwner)
}

func TestEditBookPreservesLoanState(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bookID, _ := m.AddBook("Dune", "Frank Herbert")
	require.NoError(t, m.Borrow(bookID, alice))

	require.NoError(t, m.EditBook(bookID, "Dune Messiah", "Frank Herbert"))

	book, _ := d.GetBook(bookID)
	assert.Equal(t, "Dune Messiah", book.Title)
	assert.Equal(t, models.StatusBorrowed, book.Status)
	assert.Equal(t, alice.ID, *book.BorrowedByUserID)
	requireInvariant(t, d, bookID)

	assert.ErrorIs(t, m.EditBook(9999, "x", "y"), ErrBookNotFound)
}

func TestDeleteBook(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bookID, _ := m.AddBook("Dune", "Frank Herbert")

	require.NoError(t, m.Borrow(bookID, alice))
	assert.ErrorIs(t, m.DeleteBook(bookID), ErrBookBorrowed)

	require.NoError(t, m.Return(bookID, alice))
	require.NoError(t, m.DeleteBook(bookID))
	assert.ErrorIs(t, m.DeleteBook(bookID), ErrBookNotFound)
}

func TestFine(t *testing.T) {
	day := func(s string) *string { return &s }

	assert.EqualValues(t, 0, Fine(nil, today))

	// Due today or in the future: no fine.
	assert.EqualValues(t, 0, Fine(day("2026-08-30"), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)))
	assert.EqualValues(t, 0, Fine(day("2026-09-15"), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)))

	// Three days late: 3 * 5 = 15.
	assert.EqualValues(t, 15, Fine(day("2026-08-27"), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)))

	// One day late.
	assert.EqualValues(t, 5, Fine(day("2026-08-29"), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)))
}

func TestCatalogFinesAndMyBooks(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	bob := addMember(t, d, "bob")

	first, _ := m.AddBook("Dune", "Frank Herbert")
	second, _ := m.AddBook("1984", "George Orwell")
	third, _ := m.AddBook("The Hobbit", "J.R.R. Tolkien")

	require.NoError(t, m.Borrow(first, alice))
	require.NoError(t, m.Borrow(second, bob))

	// Backdate alice's loan three days past due.
	overdue := today.AddDate(0, 0, -3).Format(db.DateLayout)
	_, err := d.MarkReturned(first, &alice.ID)
	require.NoError(t, err)
	ok, err := d.MarkBorrowed(first, alice.ID, overdue)
	require.NoError(t, err)
	require.True(t, ok)

	all, mine, err := m.Catalog(alice)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// myBooks is exactly the subsequence of all borrowed by alice.
	require.Len(t, mine, 1)
	assert.Equal(t, first, mine[0].ID)
	assert.EqualValues(t, 15, mine[0].Fine)

	// Not-overdue loan carries no fine; available book neither.
	for _, b := range all {
		switch b.ID {
		case first:
			assert.EqualValues(t, 15, b.Fine)
		case second, third:
			assert.EqualValues(t, 0, b.Fine)
		}
	}
}

func TestCatalogEmptyForAdmin(t *testing.T) {
	m, d := newTestManager(t)
	alice := addMember(t, d, "alice")
	admin := addAdmin(t, d)

	bookID, _ := m.AddBook("Dune", "Frank Herbert")
	require.NoError(t, m.Borrow(bookID, alice))

	all, mine, err := m.Catalog(admin)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Empty(t, mine, "admins have no personal subset")
}
