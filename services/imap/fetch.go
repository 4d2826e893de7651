package imap

import (
	"context"
	"sort"

	go_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const defaultFetchBatchSize = 50

// HighestUID returns the uid of the last message in the folder, 0 when it is empty.
func (s *Session) HighestUID(ctx context.Context, folder string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.HighestUID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)

	var highest uint32
	err := s.run(ctx, "imap.highest_uid", s.cfg.CommandTimeout, func(c *client.Client) error {
		mbox, err := s.reselectLocked(c, folder, true)
		if err != nil {
			return err
		}
		if mbox.Messages == 0 {
			return nil
		}

		// uids ascend with sequence numbers, so the last message holds the highest uid
		seqset := new(go_imap.SeqSet)
		seqset.AddNum(mbox.Messages)
		messages := make(chan *go_imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.Fetch(seqset, []go_imap.FetchItem{go_imap.FetchUid}, messages)
		}()
		for msg := range messages {
			if msg.Uid > highest {
				highest = msg.Uid
			}
		}
		return <-done
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	span.SetTag("highest_uid", highest)
	return highest, nil
}

// UIDValidity returns the folder's UIDVALIDITY. Uids from a different validity refer
// to different messages.
func (s *Session) UIDValidity(ctx context.Context, folder string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.UIDValidity")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)

	var validity uint32
	err := s.run(ctx, "imap.uid_validity", s.cfg.CommandTimeout, func(c *client.Client) error {
		mbox, err := s.selectLocked(c, folder, true)
		if err != nil {
			return err
		}
		validity = mbox.UidValidity
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	span.SetTag("uid_validity", validity)
	return validity, nil
}

// FetchNewMessages returns messages with uid > sinceUID in ascending uid order. The
// returned emails carry the account id; the caller assigns the folder id.
func (s *Session) FetchNewMessages(ctx context.Context, folder string, sinceUID uint32, opts interfaces.FetchOptions) ([]*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.FetchNewMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)
	span.SetTag("since_uid", sinceUID)
	span.SetTag("limit", opts.Limit)
	span.SetTag("batch_size", opts.BatchSize)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultFetchBatchSize
	}

	var emails []*models.Email
	err := s.run(ctx, "imap.fetch", s.cfg.FetchTimeout, func(c *client.Client) error {
		if _, err := s.selectLocked(c, folder, true); err != nil {
			return err
		}

		uids, err := searchUIDsAbove(c, sinceUID)
		if err != nil {
			return err
		}
		if opts.Limit > 0 && len(uids) > opts.Limit {
			uids = uids[len(uids)-opts.Limit:]
		}
		if len(uids) == 0 {
			s.markSeen(folder, sinceUID)
			return nil
		}
		s.markSeen(folder, uids[len(uids)-1])
		s.log.Infof("[%s][%s] Fetching %d message(s) above uid %d", s.accountID(), folder, len(uids), sinceUID)

		section := &go_imap.BodySectionName{Peek: true}
		items := []go_imap.FetchItem{
			go_imap.FetchUid,
			go_imap.FetchEnvelope,
			go_imap.FetchFlags,
			go_imap.FetchInternalDate,
			section.FetchItem(),
		}

		emails = make([]*models.Email, 0, len(uids))
		for _, batch := range utils.Chunk(uids, batchSize) {
			if err := ctx.Err(); err != nil {
				return err
			}
			fetched, err := fetchBatch(c, batch, items)
			if err != nil {
				return err
			}
			for _, uid := range batch {
				msg, ok := fetched[uid]
				if !ok {
					// expunged between SEARCH and FETCH
					continue
				}
				emails = append(emails, toEmail(s.accountID(), msg, section))
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.SetTag("fetched", len(emails))
	return emails, nil
}

// markSeen records the highest uid fetched from folder. Callers hold mu.
func (s *Session) markSeen(folder string, uid uint32) {
	name := s.serverName(folder)
	if uid > s.seen[name] {
		s.seen[name] = uid
	}
}

// unseenArrivals reports whether UIDNEXT shows messages past the highest seen uid.
func (s *Session) unseenArrivals(folder string, mbox *go_imap.MailboxStatus) bool {
	seen, ok := s.seen[s.serverName(folder)]
	if !ok || mbox.UidNext == 0 {
		return false
	}
	return mbox.UidNext > seen+1
}

// searchUIDsAbove returns the sorted uids greater than sinceUID.
func searchUIDsAbove(c *client.Client, sinceUID uint32) ([]uint32, error) {
	seqset := new(go_imap.SeqSet)
	seqset.AddRange(sinceUID+1, 0)
	criteria := go_imap.NewSearchCriteria()
	criteria.Uid = seqset

	found, err := c.UidSearch(criteria)
	if err != nil {
		return nil, err
	}

	// "n:*" matches the last message even when its uid is below n
	uids := make([]uint32, 0, len(found))
	for _, uid := range found {
		if uid > sinceUID {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func fetchBatch(c *client.Client, uids []uint32, items []go_imap.FetchItem) (map[uint32]*go_imap.Message, error) {
	seqset := new(go_imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *go_imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	fetched := make(map[uint32]*go_imap.Message, len(uids))
	for msg := range messages {
		fetched[msg.Uid] = msg
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return fetched, nil
}
