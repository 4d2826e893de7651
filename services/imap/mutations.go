package imap

import (
	"bytes"
	"context"
	"time"

	go_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/internal/tracing"
)

// SetFlags adds or removes flags on one message.
func (s *Session) SetFlags(ctx context.Context, folder string, uid uint32, flags []string, add bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.SetFlags")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)
	span.SetTag("uid", uid)
	span.SetTag("add", add)
	span.LogKV("flags", flags)

	err := s.run(ctx, "imap.store", s.cfg.CommandTimeout, func(c *client.Client) error {
		if _, err := s.selectLocked(c, folder, false); err != nil {
			return err
		}
		return storeFlags(c, uid, flags, add)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func storeFlags(c *client.Client, uid uint32, flags []string, add bool) error {
	seqset := new(go_imap.SeqSet)
	seqset.AddNum(uid)
	return storeFlagsOn(c, seqset, flags, add)
}

func storeFlagsOn(c *client.Client, seqset *go_imap.SeqSet, flags []string, add bool) error {
	op := go_imap.FlagsOp(go_imap.RemoveFlags)
	if add {
		op = go_imap.AddFlags
	}
	values := make([]interface{}, 0, len(flags))
	for _, flag := range flags {
		values = append(values, flag)
	}
	return c.UidStore(seqset, go_imap.FormatFlagsOp(op, true), values, nil)
}

// Move uses MOVE when the server supports it. Otherwise the message is copied and only
// its own uid is expunged.
func (s *Session) Move(ctx context.Context, folder string, uid uint32, target string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.Move")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)
	span.SetTag("uid", uid)
	span.SetTag("target", target)

	err := s.run(ctx, "imap.move", s.cfg.CommandTimeout, func(c *client.Client) error {
		if _, err := s.selectLocked(c, folder, false); err != nil {
			return err
		}
		seqset := new(go_imap.SeqSet)
		seqset.AddNum(uid)

		supported, err := c.Support("MOVE")
		if err != nil {
			return err
		}
		if supported {
			return c.UidMove(seqset, s.serverName(target))
		}
		if err := c.UidCopy(seqset, s.serverName(target)); err != nil {
			return err
		}
		if err := storeFlags(c, uid, []string{go_imap.DeletedFlag}, true); err != nil {
			return err
		}
		return expungeUIDs(c, uid)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// Delete flags the message \Deleted and expunges that message only.
func (s *Session) Delete(ctx context.Context, folder string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)
	span.SetTag("uid", uid)

	err := s.run(ctx, "imap.delete", s.cfg.CommandTimeout, func(c *client.Client) error {
		if _, err := s.selectLocked(c, folder, false); err != nil {
			return err
		}
		if err := storeFlags(c, uid, []string{go_imap.DeletedFlag}, true); err != nil {
			return err
		}
		return expungeUIDs(c, uid)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// Append stores a raw RFC 5322 message in the folder.
func (s *Session) Append(ctx context.Context, folder string, flags []string, message []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.Append")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)
	span.SetTag("size", len(message))

	err := s.run(ctx, "imap.append", s.cfg.CommandTimeout, func(c *client.Client) error {
		return c.Append(s.serverName(folder), flags, time.Now(), bytes.NewBuffer(message))
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}
