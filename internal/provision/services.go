package provision

import (
	"context"

	"github.com/bulkprov/bulkprov/internal/directory"
	"github.com/bulkprov/bulkprov/internal/mailbox"
)

// DirectoryService is the identity-surface capability the orchestrator
// consumes. Absent resources are reported as backend.ErrNotFound.
type DirectoryService interface {
	FindUser(ctx context.Context, upn string) (*directory.User, error)
	CreateUser(ctx context.Context, req directory.CreateUserRequest) (*directory.User, error)
	SetUsageLocation(ctx context.Context, upn, code string) error
	AssignLicenses(ctx context.Context, upn string, add, remove []string) error
}

// MailboxService is the mailbox-surface capability the orchestrator and
// poller consume.
type MailboxService interface {
	FindMailbox(ctx context.Context, upn string) (*mailbox.Mailbox, error)
	EnableArchive(ctx context.Context, upn string) error
	EnableAutoExpandingArchive(ctx context.Context, upn string) error
}
