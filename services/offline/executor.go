package offline

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tombstone"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	flagSeen    = `\Seen`
	flagFlagged = `\Flagged`
)

// Executor replays one queued operation through a connected session and mirrors the
// result into the local store.
type Executor struct {
	repositories *repository.Repositories
	credentials  interfaces.CredentialProvider
	sender       interfaces.MailSender
	tombstones   *tombstone.Cache
	cfg          *config.OfflineConfig
	log          logger.Logger
}

var _ interfaces.OperationExecutor = (*Executor)(nil)

func NewExecutor(
	repos *repository.Repositories,
	credentials interfaces.CredentialProvider,
	sender interfaces.MailSender,
	tombstones *tombstone.Cache,
	cfg *config.OfflineConfig,
	log logger.Logger,
) *Executor {
	return &Executor{
		repositories: repos,
		credentials:  credentials,
		sender:       sender,
		tombstones:   tombstones,
		cfg:          cfg,
		log:          log,
	}
}

func (e *Executor) Execute(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Executor.Execute")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, op.AccountID)
	tracing.TagEntity(span, op.ID)
	span.SetTag("operation.type", op.Type.String())

	var err error
	switch op.Type {
	case enum.OperationMarkRead:
		err = e.setFlags(ctx, session, op, flagSeen, true)
	case enum.OperationMarkUnread:
		err = e.setFlags(ctx, session, op, flagSeen, false)
	case enum.OperationStar:
		err = e.setFlags(ctx, session, op, flagFlagged, true)
	case enum.OperationUnstar:
		err = e.setFlags(ctx, session, op, flagFlagged, false)
	case enum.OperationDelete:
		err = e.deleteMessage(ctx, session, op)
	case enum.OperationMove:
		err = e.moveMessage(ctx, session, op)
	case enum.OperationCreateFolder:
		err = session.CreateFolder(ctx, op.Payload.GetString(models.PayloadFolder))
	case enum.OperationDeleteFolder:
		err = session.DeleteFolder(ctx, op.Payload.GetString(models.PayloadFolder))
	case enum.OperationSend:
		err = e.send(ctx, session, op)
	default:
		err = errors.Wrapf(mailsync_errors.ErrInvalidOperation, "unknown operation type %q", op.Type)
	}
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// messageRef locates the message an operation targets.
type messageRef struct {
	path   string
	uid    uint32
	folder *models.Folder
	email  *models.Email
}

func (e *Executor) resolveMessage(ctx context.Context, op *models.PendingOperation) (*messageRef, error) {
	ref := &messageRef{
		path: op.Payload.GetString(models.PayloadFolder),
	}
	ref.uid, _ = op.Payload.GetUint32(models.PayloadUID)

	if emailID := op.Payload.GetString(models.PayloadEmailID); emailID != "" {
		email, err := e.repositories.EmailRepository.GetByID(ctx, emailID)
		if err != nil {
			return nil, mailsync_errors.Storage("executor.email", err)
		}
		if email != nil {
			ref.email = email
			ref.uid = email.UID
			folder, err := e.repositories.FolderRepository.GetByID(ctx, email.FolderID)
			if err != nil {
				return nil, mailsync_errors.Storage("executor.folder", err)
			}
			if folder != nil {
				ref.folder = folder
				ref.path = folder.FullName
			}
		}
	}

	if ref.path == "" || ref.uid == 0 {
		return nil, errors.Wrap(mailsync_errors.ErrInvalidOperation, "operation does not identify a message")
	}

	if ref.folder == nil {
		folder, err := e.repositories.FolderRepository.GetByFullName(ctx, op.AccountID, ref.path)
		if err != nil {
			return nil, mailsync_errors.Storage("executor.folder", err)
		}
		ref.folder = folder
	}
	if ref.email == nil && ref.folder != nil {
		email, err := e.repositories.EmailRepository.GetByUID(ctx, op.AccountID, ref.folder.ID, ref.uid)
		if err != nil {
			return nil, mailsync_errors.Storage("executor.email", err)
		}
		ref.email = email
	}
	return ref, nil
}

func (e *Executor) setFlags(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation, flag string, add bool) error {
	ref, err := e.resolveMessage(ctx, op)
	if err != nil {
		return err
	}
	if err := session.SetFlags(ctx, ref.path, ref.uid, []string{flag}, add); err != nil {
		return err
	}
	if ref.email == nil {
		return nil
	}

	isRead, isStarred := ref.email.IsRead, ref.email.IsStarred
	if flag == flagSeen {
		isRead = add
	} else {
		isStarred = add
	}
	if err := e.repositories.EmailRepository.UpdateFlags(ctx, ref.email.ID, isRead, isStarred, enum.EmailSyncStateSynced); err != nil {
		e.log.Warnf("[%s][%s] Flags applied remotely but local update failed: %v", op.AccountID, ref.path, err)
	}
	return nil
}

func (e *Executor) deleteMessage(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation) error {
	ref, err := e.resolveMessage(ctx, op)
	if err != nil {
		return err
	}
	if err := session.Delete(ctx, ref.path, ref.uid); err != nil {
		return err
	}
	e.forgetLocally(ctx, op.AccountID, ref)
	return nil
}

func (e *Executor) moveMessage(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation) error {
	target := op.Payload.GetString(models.PayloadTargetFolder)
	if target == "" {
		return errors.Wrap(mailsync_errors.ErrInvalidOperation, "move requires a target folder")
	}
	ref, err := e.resolveMessage(ctx, op)
	if err != nil {
		return err
	}
	if err := session.Move(ctx, ref.path, ref.uid, target); err != nil {
		return err
	}
	// the copy in the target folder arrives with the next fetch of that folder
	e.forgetLocally(ctx, op.AccountID, ref)
	return nil
}

// forgetLocally tombstones the message before deleting its row so an in-flight fetch
// cannot resurrect it.
func (e *Executor) forgetLocally(ctx context.Context, accountID string, ref *messageRef) {
	if ref.folder == nil {
		return
	}
	e.tombstones.Add(accountID, ref.folder.ID, ref.uid)
	if err := e.repositories.EmailRepository.DeleteByUID(ctx, accountID, ref.folder.ID, ref.uid); err != nil {
		e.log.Warnf("[%s][%s] Message removed remotely but local delete failed: %v", accountID, ref.path, err)
	}
}

func (e *Executor) send(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation) error {
	account, err := e.repositories.AccountRepository.GetByID(ctx, op.AccountID)
	if err != nil {
		return mailsync_errors.Storage("executor.account", err)
	}
	if account == nil {
		return mailsync_errors.ErrAccountNotFound
	}
	secret, err := e.credentials.GetSecret(ctx, op.AccountID)
	if err != nil {
		return mailsync_errors.Auth("executor.secret", err)
	}

	outgoing := &interfaces.OutgoingEmail{
		To:         op.Payload.GetStrings(models.PayloadTo),
		Cc:         op.Payload.GetStrings(models.PayloadCc),
		Bcc:        op.Payload.GetStrings(models.PayloadBcc),
		Subject:    op.Payload.GetString(models.PayloadSubject),
		BodyText:   op.Payload.GetString(models.PayloadBodyText),
		BodyHTML:   op.Payload.GetString(models.PayloadBodyHTML),
		InReplyTo:  op.Payload.GetString(models.PayloadInReplyTo),
		References: op.Payload.GetStrings(models.PayloadReferences),
	}
	raw, err := e.sender.Send(ctx, account, secret, outgoing)
	if err != nil {
		return err
	}

	if !e.cfg.AppendSentMessages || e.cfg.SentFolder == "" {
		return nil
	}
	sent, err := e.repositories.FolderRepository.GetByFullName(ctx, op.AccountID, e.cfg.SentFolder)
	if err != nil || sent == nil {
		return nil
	}
	// the message is already delivered; a failed append must not trigger a resend
	if err := session.Append(ctx, sent.FullName, []string{flagSeen}, raw); err != nil {
		e.log.Warnf("[%s][%s] Sent message could not be appended: %v", op.AccountID, sent.FullName, err)
	}
	return nil
}
