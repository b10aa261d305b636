package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PhilHem/go-file-vault/backend/config"
	"github.com/PhilHem/go-file-vault/backend/database"
	"github.com/PhilHem/go-file-vault/backend/files"
	"github.com/PhilHem/go-file-vault/backend/mailer"
	"github.com/PhilHem/go-file-vault/backend/middleware"
	"github.com/PhilHem/go-file-vault/backend/models"
	"github.com/PhilHem/go-file-vault/backend/recovery"
	"github.com/PhilHem/go-file-vault/backend/storage"
	"github.com/PhilHem/go-file-vault/backend/store"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key-32-chars-long!!!"

type fakeMail struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (f *fakeMail) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

var codePattern = regexp.MustCompile(`code is: (\d{6})`)

func (f *fakeMail) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail sent")
	}
	m := codePattern.FindStringSubmatch(f.sent[len(f.sent)-1].Body)
	if m == nil {
		t.Fatalf("no code in mail body %q", f.sent[len(f.sent)-1].Body)
	}
	return m[1]
}

type fakeProvider struct {
	mu         sync.Mutex
	uploadErr  error
	destroyErr error
	destroyed  []string
}

func (p *fakeProvider) Upload(_ context.Context, content io.Reader, opts storage.UploadOptions) (storage.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadErr != nil {
		return storage.Object{}, p.uploadErr
	}
	if _, err := io.Copy(io.Discard, content); err != nil {
		return storage.Object{}, err
	}
	id := opts.Folder + "/" + opts.Filename
	return storage.Object{
		URL:          "https://cdn.example.com/" + id,
		PublicID:     id,
		ResourceType: storage.DetectResourceType(opts.Filename),
	}, nil
}

func (p *fakeProvider) Destroy(_ context.Context, publicID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyErr != nil {
		return p.destroyErr
	}
	p.destroyed = append(p.destroyed, publicID)
	return nil
}

type testApp struct {
	srv      *httptest.Server
	users    *store.Users
	registry *store.Files
	mail     *fakeMail
	provider *fakeProvider
	now      time.Time
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatal(err)
	}

	a := &testApp{
		users:    store.NewUsers(db).WithCost(bcrypt.MinCost),
		registry: store.NewFiles(db),
		mail:     &fakeMail{},
		provider: &fakeProvider{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec := recovery.NewService(a.users, a.mail, recovery.DefaultTTL)
	rec.Now = func() time.Time { return a.now }

	sessionStore, err := NewSessionStore(config.SessionConfig{Secret: testSecret, Timeout: time.Hour}, false)
	if err != nil {
		t.Fatal(err)
	}
	h := New(sessionStore, a.users, files.NewService(a.registry, a.provider, "file_vault"), rec)

	mux := http.NewServeMux()
	h.Mount(mux)
	csrf := middleware.NewCSRFProtection(testSecret, false)
	a.srv = httptest.NewServer(middleware.MaxBytes(1<<20, csrf.Protect(mux)))
	t.Cleanup(a.srv.Close)
	return a
}

// browser is one cookie-holding client; redirects are not followed.
type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &browser{t: t, app: a, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

type response struct {
	status   int
	location string
	body     string
}

func (b *browser) do(req *http.Request) response {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatal(err)
	}
	return response{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(body)}
}

func (b *browser) get(path string) response {
	b.t.Helper()
	req, err := http.NewRequest("GET", b.app.srv.URL+path, nil)
	if err != nil {
		b.t.Fatal(err)
	}
	return b.do(req)
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	u, _ := url.Parse(b.app.srv.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "_csrf" {
			return c.Value
		}
	}
	b.get("/health")
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "_csrf" {
			return c.Value
		}
	}
	b.t.Fatal("no csrf cookie issued")
	return ""
}

func (b *browser) post(path string, form url.Values) response {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("_csrf", b.csrfToken())
	req, err := http.NewRequest("POST", b.app.srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		b.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) upload(filename string, content []byte) response {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("_csrf", b.csrfToken())
	if filename != "-" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			b.t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()

	req, err := http.NewRequest("POST", b.app.srv.URL+"/dashboard", &buf)
	if err != nil {
		b.t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func (b *browser) register(username, email, password string) response {
	b.t.Helper()
	return b.post("/register", url.Values{"username": {username}, "email": {email}, "password": {password}})
}

func (b *browser) login(email, password string) response {
	b.t.Helper()
	return b.post("/login", url.Values{"email": {email}, "password": {password}})
}

func expectRedirect(t *testing.T, r response, to string) {
	t.Helper()
	if r.status != http.StatusSeeOther || r.location != to {
		t.Fatalf("Expected 303 to %s, got %d %q (%s)", to, r.status, r.location, r.body)
	}
}

func expectBody(t *testing.T, r response, want string) {
	t.Helper()
	if !strings.Contains(r.body, want) {
		t.Fatalf("Expected body to contain %q, got %d %s", want, r.status, r.body)
	}
}

// RED: Test that empty session secret causes error
func TestNewSessionStore_FailsOnEmptySecret(t *testing.T) {
	if _, err := NewSessionStore(config.SessionConfig{}, false); err == nil {
		t.Error("NewSessionStore should fail when session secret is empty")
	}
}

// RED: Test that weak session secret (too short) causes error
func TestNewSessionStore_FailsOnWeakSecret(t *testing.T) {
	if _, err := NewSessionStore(config.SessionConfig{Secret: "short"}, false); err == nil {
		t.Error("NewSessionStore should fail when session secret is too short")
	}
}

// RED: Test that cookie options follow config
func TestNewSessionStore_Options(t *testing.T) {
	s, err := NewSessionStore(config.SessionConfig{Secret: testSecret, Timeout: 24 * time.Hour}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Options.Secure || !s.Options.HttpOnly {
		t.Errorf("Expected Secure and HttpOnly cookies, got %+v", s.Options)
	}
	if s.Options.MaxAge != 86400 {
		t.Errorf("Expected MaxAge 86400, got %d", s.Options.MaxAge)
	}
	if s.Options.SameSite != http.SameSiteLaxMode {
		t.Errorf("Expected SameSite=Lax, got %v", s.Options.SameSite)
	}
}

func TestHealth(t *testing.T) {
	b := newTestApp(t).browser(t)
	r := b.get("/health")
	if r.status != http.StatusOK || r.body != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", r.status, r.body)
	}
}

// RED: Test that registration logs the user in and lands on the dashboard
func TestRegister_AutoLogin(t *testing.T) {
	b := newTestApp(t).browser(t)

	expectRedirect(t, b.register("alice", "alice@example.com", "Password1!"), "/dashboard")

	r := b.get("/dashboard")
	if r.status != http.StatusOK {
		t.Fatalf("Expected dashboard, got %d", r.status)
	}
	expectBody(t, r, "Account created!")
	expectBody(t, r, "alice")

	// Flash is shown once.
	if strings.Contains(b.get("/dashboard").body, "Account created!") {
		t.Error("Flash should be consumed after being shown")
	}
}

// RED: Test that duplicate username or email is rejected with one message
func TestRegister_Duplicate(t *testing.T) {
	app := newTestApp(t)
	expectRedirect(t, app.browser(t).register("alice", "alice@example.com", "Password1!"), "/dashboard")

	for _, tc := range []struct{ username, email string }{
		{"alice", "other@example.com"},
		{"other", "alice@example.com"},
	} {
		r := app.browser(t).register(tc.username, tc.email, "Password1!")
		if r.status != http.StatusOK {
			t.Fatalf("Expected form re-render, got %d", r.status)
		}
		expectBody(t, r, "That username or email is already taken.")
	}
}

// RED: Test registration form validation
func TestRegister_Validation(t *testing.T) {
	b := newTestApp(t).browser(t)

	tests := []struct {
		username, email, password, want string
	}{
		{"al", "al@example.com", "Password1!", "Username must be 3-20 letters or digits."},
		{"bad name", "b@example.com", "Password1!", "Username must be 3-20 letters or digits."},
		{"carol", "notanemail", "Password1!", "Enter a valid email address."},
		{"dave", "dave@example.com", "short", "Password must be 8-72 characters."},
		{"erin", "erin@example.com", strings.Repeat("é", 40), "Password must be 8-72 characters."},
	}
	for _, tc := range tests {
		r := b.register(tc.username, tc.email, tc.password)
		expectBody(t, r, tc.want)
	}
}

// RED: Test that unknown email and wrong password look the same
func TestLogin_FailuresShareMessage(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	b := app.browser(t)
	wrong := b.login("alice@example.com", "Wrong1234!")
	unknown := b.login("ghost@example.com", "Password1!")

	for _, r := range []response{wrong, unknown} {
		if r.status != http.StatusOK {
			t.Fatalf("Expected form re-render, got %d", r.status)
		}
		expectBody(t, r, "Login unsuccessful. Check email and password.")
	}
	expectRedirect(t, b.get("/dashboard"), "/login")
}

func TestLogin_Success(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	b := app.browser(t)
	expectRedirect(t, b.login("alice@example.com", "Password1!"), "/dashboard")
	expectRedirect(t, b.get("/"), "/dashboard")
	expectRedirect(t, b.get("/login"), "/dashboard")
	expectRedirect(t, b.get("/forgot_password"), "/dashboard")
}

// RED: Test that protected routes redirect anonymous users
func TestGuard_Anonymous(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	expectRedirect(t, b.get("/"), "/login")
	expectRedirect(t, b.get("/dashboard"), "/login")
	expectRedirect(t, b.post("/delete/1", nil), "/login")
	if r := b.get("/login"); r.status != http.StatusOK {
		t.Errorf("Login page should render, got %d", r.status)
	}
}

func TestLogout(t *testing.T) {
	b := newTestApp(t).browser(t)
	b.register("alice", "alice@example.com", "Password1!")

	expectRedirect(t, b.get("/logout"), "/login")
	expectRedirect(t, b.get("/dashboard"), "/login")
}

// RED: Test that state-changing requests need the CSRF token
func TestCSRF_RequiredOnPost(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.csrfToken()

	req, _ := http.NewRequest("POST", app.srv.URL+"/login", strings.NewReader("email=a@example.com&password=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if r := b.do(req); r.status != http.StatusForbidden {
		t.Errorf("Expected 403 without token, got %d", r.status)
	}
}

func TestUpload_ListsOwnFilesOnly(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)
	alice.register("alice", "alice@example.com", "Password1!")
	bob := app.browser(t)
	bob.register("bob", "bob@example.com", "Password1!")

	expectRedirect(t, alice.upload("cat.png", []byte("png")), "/dashboard")
	expectRedirect(t, bob.upload("report.pdf", []byte("pdf")), "/dashboard")

	r := alice.get("/dashboard")
	expectBody(t, r, "cat.png uploaded successfully!")
	expectBody(t, r, `<img src="https://cdn.example.com/file_vault/cat.png"`)
	if strings.Contains(r.body, "report.pdf") {
		t.Error("Dashboard must not list other users' files")
	}
}

// RED: Test that empty uploads are rejected without creating a record
func TestUpload_NoFile(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "alice@example.com", "Password1!")

	for _, name := range []string{"-", "empty.txt"} {
		expectRedirect(t, b.upload(name, nil), "/dashboard")
		expectBody(t, b.get("/dashboard"), "No file selected.")
	}

	user, _ := app.users.ByEmail(context.Background(), "alice@example.com")
	list, err := app.registry.List(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no records, got %d", len(list))
	}
}

func TestUpload_ProviderFailure(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "alice@example.com", "Password1!")
	app.provider.uploadErr = errors.New("cloudinary down")

	expectRedirect(t, b.upload("a.txt", []byte("data")), "/dashboard")
	r := b.get("/dashboard")
	expectBody(t, r, "A remote service is unavailable right now.")
	expectBody(t, r, "No files yet.")
}

func TestUpload_TooLarge(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "alice@example.com", "Password1!")

	r := b.upload("big.bin", bytes.Repeat([]byte("x"), 1<<20+64<<10))
	if r.status != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", r.status)
	}
}

func uploadedFile(t *testing.T, app *testApp, email string) models.File {
	t.Helper()
	user, err := app.users.ByEmail(context.Background(), email)
	if err != nil {
		t.Fatal(err)
	}
	list, err := app.registry.List(context.Background(), user)
	if err != nil || len(list) == 0 {
		t.Fatalf("Expected an uploaded file, got %v %v", list, err)
	}
	return list[0]
}

// RED: Test that only the owner can delete a file
func TestDelete_Ownership(t *testing.T) {
	app := newTestApp(t)
	alice := app.browser(t)
	alice.register("alice", "alice@example.com", "Password1!")
	bob := app.browser(t)
	bob.register("bob", "bob@example.com", "Password1!")

	alice.upload("cat.png", []byte("png"))
	file := uploadedFile(t, app, "alice@example.com")
	path := "/delete/" + itoa(file.ID)

	if r := bob.post(path, nil); r.status != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", r.status)
	}
	if r := alice.post("/delete/9999", nil); r.status != http.StatusNotFound {
		t.Errorf("Expected 404 for missing file, got %d", r.status)
	}
	if r := alice.post("/delete/abc", nil); r.status != http.StatusNotFound {
		t.Errorf("Expected 404 for bad id, got %d", r.status)
	}

	expectRedirect(t, alice.post(path, nil), "/dashboard")
	expectBody(t, alice.get("/dashboard"), "File deleted successfully!")
	if len(app.provider.destroyed) != 1 || app.provider.destroyed[0] != "file_vault/cat.png" {
		t.Errorf("Expected remote destroy of file_vault/cat.png, got %v", app.provider.destroyed)
	}
	if r := alice.post(path, nil); r.status != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", r.status)
	}
}

// RED: Test that a failed remote delete keeps the record
func TestDelete_ProviderFailureKeepsRecord(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "alice@example.com", "Password1!")
	b.upload("cat.png", []byte("png"))
	file := uploadedFile(t, app, "alice@example.com")

	app.provider.destroyErr = errors.New("timeout")
	expectRedirect(t, b.post("/delete/"+itoa(file.ID), nil), "/dashboard")

	r := b.get("/dashboard")
	expectBody(t, r, "A remote service is unavailable right now.")
	expectBody(t, r, "cat.png")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// RED: Test the full recovery flow
func TestRecovery_FullFlow(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	b := app.browser(t)
	expectRedirect(t, b.post("/forgot_password", url.Values{"email": {"alice@example.com"}}), "/verify_otp")
	code := app.mail.lastCode(t)

	r := b.get("/verify_otp")
	expectBody(t, r, "A 6-digit code has been sent to your email.")
	expectBody(t, r, "alice@example.com")

	wrong := "100000"
	if code == wrong {
		wrong = "100001"
	}
	expectBody(t, b.post("/verify_otp", url.Values{"otp": {wrong}}), "Invalid code.")

	expectRedirect(t, b.post("/verify_otp", url.Values{"otp": {code}}), "/reset_new_password")

	r = b.post("/reset_new_password", url.Values{"password": {"BrandNew3#"}, "confirm_password": {"Different3#"}})
	expectBody(t, r, "Passwords do not match.")

	expectRedirect(t, b.post("/reset_new_password", url.Values{"password": {"BrandNew3#"}, "confirm_password": {"BrandNew3#"}}), "/login")
	expectBody(t, b.get("/login"), "Your password has been updated!")

	// The flow is finished; replaying either step starts over.
	expectRedirect(t, b.get("/reset_new_password"), "/forgot_password")
	expectRedirect(t, b.post("/verify_otp", url.Values{"otp": {code}}), "/forgot_password")

	expectBody(t, app.browser(t).login("alice@example.com", "Password1!"), "Login unsuccessful.")
	expectRedirect(t, app.browser(t).login("alice@example.com", "BrandNew3#"), "/dashboard")
}

func TestRecovery_UnknownEmail(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	r := b.post("/forgot_password", url.Values{"email": {"ghost@example.com"}})
	expectBody(t, r, "There is no account with that email.")
	if len(app.mail.sent) != 0 {
		t.Error("No mail should be sent for an unknown email")
	}
	expectRedirect(t, b.get("/verify_otp"), "/forgot_password")
}

// RED: Test that an expired code sends the caller back to the start
func TestRecovery_Expired(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	b := app.browser(t)
	b.post("/forgot_password", url.Values{"email": {"alice@example.com"}})
	code := app.mail.lastCode(t)

	app.now = app.now.Add(recovery.DefaultTTL)
	expectRedirect(t, b.post("/verify_otp", url.Values{"otp": {code}}), "/forgot_password")
	expectBody(t, b.get("/forgot_password"), "That code has expired.")
	expectRedirect(t, b.get("/verify_otp"), "/forgot_password")
}

func TestRecovery_StepsRequireFlow(t *testing.T) {
	b := newTestApp(t).browser(t)

	expectRedirect(t, b.get("/verify_otp"), "/forgot_password")
	expectRedirect(t, b.get("/reset_new_password"), "/forgot_password")
	expectRedirect(t, b.post("/reset_new_password", url.Values{"password": {"BrandNew3#"}, "confirm_password": {"BrandNew3#"}}), "/forgot_password")
}

func TestRecovery_FlowsArePerSession(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	attacker := app.browser(t)
	victim := app.browser(t)
	victim.post("/forgot_password", url.Values{"email": {"alice@example.com"}})
	code := app.mail.lastCode(t)

	// Knowing the code is useless without the session that requested it.
	expectRedirect(t, attacker.post("/verify_otp", url.Values{"otp": {code}}), "/forgot_password")
	expectRedirect(t, victim.post("/verify_otp", url.Values{"otp": {code}}), "/reset_new_password")
}

// RED: Test that a reset finished in one session sends the other back to the start
func TestRecovery_StaleSessionAfterResetElsewhere(t *testing.T) {
	app := newTestApp(t)
	app.browser(t).register("alice", "alice@example.com", "Password1!")

	laptop := app.browser(t)
	phone := app.browser(t)
	laptop.post("/forgot_password", url.Values{"email": {"alice@example.com"}})
	phone.post("/forgot_password", url.Values{"email": {"alice@example.com"}})
	code := app.mail.lastCode(t)

	expectRedirect(t, phone.post("/verify_otp", url.Values{"otp": {code}}), "/reset_new_password")
	expectRedirect(t, phone.post("/reset_new_password", url.Values{"password": {"BrandNew3#"}, "confirm_password": {"BrandNew3#"}}), "/login")

	expectRedirect(t, laptop.post("/verify_otp", url.Values{"otp": {code}}), "/forgot_password")
	expectBody(t, laptop.get("/forgot_password"), "Please start the password reset again.")
	expectRedirect(t, laptop.get("/verify_otp"), "/forgot_password")
}
