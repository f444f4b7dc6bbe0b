package provision

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bulkprov/bulkprov/internal/backend"
	"github.com/bulkprov/bulkprov/internal/directory"
	"github.com/bulkprov/bulkprov/internal/mailbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances instantly on Sleep so poller tests cover simulated
// minutes in microseconds.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeDirectory is an in-memory DirectoryService recording every call.
type fakeDirectory struct {
	users map[string]*directory.User

	findErr   error
	createErr error
	usageErr  error
	assignErr error

	createCalls []directory.CreateUserRequest
	usageCalls  []string
	assignCalls []assignCall
}

type assignCall struct {
	upn    string
	add    []string
	remove []string
}

func newFakeDirectory(existing ...string) *fakeDirectory {
	f := &fakeDirectory{users: make(map[string]*directory.User)}
	for _, upn := range existing {
		f.users[upn] = userStub(upn)
	}
	return f
}

func userStub(upn string) *directory.User {
	return &directory.User{ID: "id-" + upn, UserPrincipalName: upn}
}

func (f *fakeDirectory) FindUser(ctx context.Context, upn string) (*directory.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if u, ok := f.users[upn]; ok {
		return u, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeDirectory) CreateUser(ctx context.Context, req directory.CreateUserRequest) (*directory.User, error) {
	f.createCalls = append(f.createCalls, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	u := &directory.User{
		ID:                "id-" + req.UserPrincipalName,
		DisplayName:       req.DisplayName,
		UserPrincipalName: req.UserPrincipalName,
		AccountEnabled:    req.AccountEnabled,
	}
	f.users[req.UserPrincipalName] = u
	return u, nil
}

func (f *fakeDirectory) SetUsageLocation(ctx context.Context, upn, code string) error {
	f.usageCalls = append(f.usageCalls, upn)
	return f.usageErr
}

func (f *fakeDirectory) AssignLicenses(ctx context.Context, upn string, add, remove []string) error {
	f.assignCalls = append(f.assignCalls, assignCall{upn: upn, add: add, remove: remove})
	return f.assignErr
}

// fakeMailbox is a MailboxService whose mailboxes become visible at a
// configured point on the fake clock.
type fakeMailbox struct {
	clock    *fakeClock
	existing map[string]bool
	appearAt map[string]time.Time

	findErr   error
	enableErr error
	autoErr   error

	findCalls   int
	enableCalls []string
	autoCalls   []string
}

func newFakeMailbox(clock *fakeClock) *fakeMailbox {
	return &fakeMailbox{
		clock:    clock,
		existing: make(map[string]bool),
		appearAt: make(map[string]time.Time),
	}
}

func (f *fakeMailbox) FindMailbox(ctx context.Context, upn string) (*mailbox.Mailbox, error) {
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.existing[upn] {
		return &mailbox.Mailbox{Identity: upn}, nil
	}
	if at, ok := f.appearAt[upn]; ok && !f.clock.Now().Before(at) {
		return &mailbox.Mailbox{Identity: upn}, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeMailbox) EnableArchive(ctx context.Context, upn string) error {
	f.enableCalls = append(f.enableCalls, upn)
	return f.enableErr
}

func (f *fakeMailbox) EnableAutoExpandingArchive(ctx context.Context, upn string) error {
	f.autoCalls = append(f.autoCalls, upn)
	return f.autoErr
}
