package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"shelfmark/auth"
	"shelfmark/config"
	"shelfmark/db"
	"shelfmark/i18n"
	"shelfmark/library"
	"shelfmark/logger"
	"shelfmark/models"
)

// templatesDir is overridable so package tests can render from a relative
// location.
var templatesDir = "templates"

type Handler struct {
	db       *db.DB
	sessions *auth.Sessions
	books    *library.Manager
}

func New(d *db.DB, s *auth.Sessions, m *library.Manager) *Handler {
	return &Handler{db: d, sessions: s, books: m}
}

// Routes mounts all application routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.Login)
	r.Get("/register", h.RegisterPage)
	r.Post("/register", h.Register)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/", h.Index)
		r.Post("/borrow/{id}", h.Borrow)
		r.Post("/return/{id}", h.Return)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/admin", h.AdminPage)
			r.Get("/admin/addbook", h.AddBookPage)
			r.Post("/admin/addbook", h.AddBook)
			r.Get("/admin/edit/{id}", h.EditBookPage)
			r.Post("/admin/edit/{id}", h.EditBook)
			r.Post("/admin/delete/{id}", h.DeleteBook)
		})
	})
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.Current(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderTemplate(w, r, "login.html", nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		http.Error(w, i18n.T(lang, "MissingCredentials"), http.StatusBadRequest)
		return
	}

	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		http.Error(w, i18n.T(lang, "TooManyAttempts"), http.StatusTooManyRequests)
		return
	}

	user, err := h.db.GetUserByUsername(username)
	if err != nil {
		logger.Log.Errorw("login lookup failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	// Timing attack mitigation: always check a password
	targetHash := db.DummyHash
	if user != nil {
		targetHash = user.PasswordHash
	}
	match := db.CheckPasswordHash(password, targetHash)

	if user == nil || !match {
		loginLimiter.RecordFailure(ip)
		http.Error(w, i18n.T(lang, "InvalidCredentials"), http.StatusUnauthorized)
		return
	}

	loginLimiter.Reset(ip)

	if err := h.sessions.Set(w, r, models.SessionUser{ID: user.ID, Username: user.Username, Role: user.Role}); err != nil {
		logger.Log.Errorw("session save failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, "register.html", nil)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		http.Error(w, i18n.T(lang, "MissingCredentials"), http.StatusBadRequest)
		return
	}

	ip := getClientIP(r)
	if !signupLimiter.Allow(ip) {
		http.Error(w, i18n.T(lang, "TooManyAttempts"), http.StatusTooManyRequests)
		return
	}

	if err := auth.ValidatePassword(password); err != nil {
		http.Error(w, i18n.T(lang, "PasswordTooShort"), http.StatusBadRequest)
		return
	}

	hash, err := db.HashPassword(password)
	if err != nil {
		logger.Log.Errorw("password hash failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	if _, err := h.db.CreateUser(username, hash, models.RoleMember); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			http.Error(w, i18n.T(lang, "UsernameAlreadyExists"), http.StatusBadRequest)
			return
		}
		logger.Log.Errorw("create user failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	// Record the successful signup so account creation per IP stays capped.
	signupLimiter.RecordFailure(ip)

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	user := CurrentUser(r)

	books, myBooks, err := h.books.Catalog(user)
	if err != nil {
		logger.Log.Errorw("catalog fetch failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	h.renderTemplate(w, r, "index.html", map[string]any{
		"Books":   books,
		"MyBooks": myBooks,
		"User":    user,
		"IsAdmin": user.IsAdmin(),
	})
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	user := CurrentUser(r)

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}

	switch err := h.books.Borrow(bookID, user); {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, library.ErrAdminCannotBorrow):
		http.Error(w, i18n.T(lang, "AdminsCannotBorrow"), http.StatusForbidden)
	case errors.Is(err, library.ErrBookNotFound):
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
	case errors.Is(err, library.ErrAlreadyBorrowed):
		http.Error(w, i18n.T(lang, "BookAlreadyBorrowed"), http.StatusConflict)
	default:
		logger.Log.Errorw("borrow failed", "book_id", bookID, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
	}
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	user := CurrentUser(r)

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}

	switch err := h.books.Return(bookID, user); {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, library.ErrBookNotFound):
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
	case errors.Is(err, library.ErrNotOwner):
		http.Error(w, i18n.T(lang, "NotYourLoan"), http.StatusForbidden)
	case errors.Is(err, library.ErrNotBorrowed):
		http.Error(w, i18n.T(lang, "BookNotBorrowed"), http.StatusConflict)
	default:
		logger.Log.Errorw("return failed", "book_id", bookID, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
	}
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func (h *Handler) AdminPage(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	user := CurrentUser(r)

	books, _, err := h.books.Catalog(user)
	if err != nil {
		logger.Log.Errorw("admin catalog fetch failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	h.renderTemplate(w, r, "admin.html", map[string]any{
		"Books":   books,
		"User":    user,
		"IsAdmin": true,
	})
}

func (h *Handler) AddBookPage(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, "add-book.html", map[string]any{
		"User":    CurrentUser(r),
		"IsAdmin": true,
	})
}

func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	title := r.FormValue("title")
	author := r.FormValue("author")

	if title == "" || author == "" {
		http.Error(w, i18n.T(lang, "MissingTitleAuthor"), http.StatusBadRequest)
		return
	}

	if _, err := h.books.AddBook(title, author); err != nil {
		logger.Log.Errorw("add book failed", "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *Handler) EditBookPage(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}

	book, err := h.books.GetBook(bookID)
	if errors.Is(err, library.ErrBookNotFound) {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.Errorw("fetch book failed", "book_id", bookID, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	h.renderTemplate(w, r, "edit-book.html", map[string]any{
		"Book":    book,
		"User":    CurrentUser(r),
		"IsAdmin": true,
	})
}

func (h *Handler) EditBook(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}

	title := r.FormValue("title")
	author := r.FormValue("author")
	if title == "" || author == "" {
		http.Error(w, i18n.T(lang, "MissingTitleAuthor"), http.StatusBadRequest)
		return
	}

	switch err := h.books.EditBook(bookID, title, author); {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, library.ErrBookNotFound):
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
	default:
		logger.Log.Errorw("edit book failed", "book_id", bookID, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
	}
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
		return
	}

	switch err := h.books.DeleteBook(bookID); {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, library.ErrBookNotFound):
		http.Error(w, i18n.T(lang, "BookNotFound"), http.StatusNotFound)
	case errors.Is(err, library.ErrBookBorrowed):
		http.Error(w, i18n.T(lang, "BookCurrentlyBorrowed"), http.StatusConflict)
	default:
		logger.Log.Errorw("delete book failed", "book_id", bookID, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func (h *Handler) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFiles(
		templatesDir+"/layout.html", templatesDir+"/"+name)
	if err != nil {
		logger.Log.Errorw("template parse failed", "template", name, "err", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	m, ok := data.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if _, exists := m["AppName"]; !exists {
		m["AppName"] = config.AppConfig.AppName
	}
	m["Lang"] = lang
	m["csrfField"] = csrf.TemplateField(r)

	if err := tmpl.ExecuteTemplate(w, "layout", m); err != nil {
		logger.Log.Errorw("template execute failed", "template", name, "err", err)
	}
}
