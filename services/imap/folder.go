package imap

import (
	"context"
	"strings"

	go_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const nonExistentAttr = `\NonExistent`

// ListFolders returns every mailbox with its counts. Any failure discards the listing.
func (s *Session) ListFolders(ctx context.Context) ([]interfaces.FolderInfo, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var folders []interfaces.FolderInfo
	err := s.run(ctx, "imap.list", s.cfg.FolderTimeout, func(c *client.Client) error {
		mailboxes, err := listMailboxes(c, false)
		if err != nil {
			return err
		}
		subscribed, err := listMailboxes(c, true)
		if err != nil {
			return err
		}
		subscribedNames := make(map[string]bool, len(subscribed))
		for _, m := range subscribed {
			subscribedNames[m.Name] = true
		}

		folders = make([]interfaces.FolderInfo, 0, len(mailboxes))
		for _, m := range mailboxes {
			if m.Delimiter != "" {
				s.delimiter = m.Delimiter
			}
			info := interfaces.FolderInfo{
				FullName:   utils.NormalizeFolderPath(m.Name, m.Delimiter),
				Delimiter:  m.Delimiter,
				Attributes: m.Attributes,
				Subscribed: subscribedNames[m.Name],
			}
			if selectable(m.Attributes) {
				status, err := c.Status(m.Name, []go_imap.StatusItem{go_imap.StatusMessages, go_imap.StatusUnseen})
				if err != nil {
					return err
				}
				info.TotalCount = status.Messages
				info.UnreadCount = status.Unseen
			}
			folders = append(folders, info)
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.LogKV("folders", len(folders))
	return folders, nil
}

func listMailboxes(c *client.Client, subscribedOnly bool) ([]*go_imap.MailboxInfo, error) {
	ch := make(chan *go_imap.MailboxInfo, 50)
	done := make(chan error, 1)
	go func() {
		if subscribedOnly {
			done <- c.Lsub("", "*", ch)
		} else {
			done <- c.List("", "*", ch)
		}
	}()

	var mailboxes []*go_imap.MailboxInfo
	for m := range ch {
		mailboxes = append(mailboxes, m)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return mailboxes, nil
}

func selectable(attributes []string) bool {
	for _, attr := range attributes {
		if strings.EqualFold(attr, go_imap.NoSelectAttr) || strings.EqualFold(attr, nonExistentAttr) {
			return false
		}
	}
	return true
}

func (s *Session) serverName(path string) string {
	return utils.ServerFolderName(path, s.delimiter)
}

// selectLocked selects a folder unless it is already selected in a compatible mode.
func (s *Session) selectLocked(c *client.Client, folder string, readOnly bool) (*go_imap.MailboxStatus, error) {
	return s.selectFolder(c, folder, readOnly, false)
}

// reselectLocked always issues SELECT/EXAMINE so the returned counts and UIDNEXT are
// current. The cached status only changes when the server sends untagged updates.
func (s *Session) reselectLocked(c *client.Client, folder string, readOnly bool) (*go_imap.MailboxStatus, error) {
	return s.selectFolder(c, folder, readOnly, true)
}

func (s *Session) selectFolder(c *client.Client, folder string, readOnly, fresh bool) (*go_imap.MailboxStatus, error) {
	name := s.serverName(folder)
	if !fresh && s.selected == name && (readOnly || !s.readOnly) {
		if mbox := c.Mailbox(); mbox != nil {
			return mbox, nil
		}
	}
	mbox, err := c.Select(name, readOnly)
	if err != nil {
		s.selected = ""
		return nil, err
	}
	s.selected = name
	s.readOnly = readOnly
	return mbox, nil
}

func (s *Session) CreateFolder(ctx context.Context, path string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.CreateFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, path)

	err := s.run(ctx, "imap.create", s.cfg.CommandTimeout, func(c *client.Client) error {
		return c.Create(s.serverName(path))
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (s *Session) DeleteFolder(ctx context.Context, path string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.DeleteFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, path)

	err := s.run(ctx, "imap.delete_folder", s.cfg.CommandTimeout, func(c *client.Client) error {
		name := s.serverName(path)
		if s.selected == name {
			s.selected = ""
		}
		return c.Delete(name)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}
