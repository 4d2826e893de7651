package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/tracing"
)

type pushWait struct {
	folder string
	events chan interfaces.PushEvent
	exists uint32

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	err      error
}

func (p *pushWait) halt() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// EnterPushWait selects the folder and issues IDLE. The returned channel is closed when
// the wait ends: ExitPushWait, another command, ctx cancellation, the duration cap or a
// dropped connection.
func (s *Session) EnterPushWait(ctx context.Context, folder string) (<-chan interfaces.PushEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.EnterPushWait")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushMu.Lock()
	active := s.push != nil
	s.pushMu.Unlock()
	if active {
		return nil, ErrPushWaitActive
	}

	if s.client == nil || s.State() == enum.ConnectionDisconnected {
		s.dropLocked()
		err := mailsync_errors.Network("imap.idle", mailsync_errors.ErrNotConnected)
		tracing.TraceErr(span, err)
		return nil, err
	}

	c := s.client
	c.Timeout = s.cfg.CommandTimeout
	mbox, err := s.reselectLocked(c, folder, true)
	if err != nil {
		err = classify("imap.select", err)
		if mailsync_errors.IsNetwork(err) {
			s.dropLocked()
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	pw := &pushWait{
		folder: folder,
		events: make(chan interfaces.PushEvent, pushEventsBuffer),
		exists: mbox.Messages,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.unseenArrivals(folder, mbox) {
		// mail delivered since the last fetch raised no EXISTS on this connection
		pw.events <- interfaces.PushEvent{Folder: folder, Kind: enum.PushEventNewMail, SeqNum: mbox.Messages}
	}
	s.pushMu.Lock()
	s.push = pw
	s.pushMu.Unlock()
	s.setState(enum.ConnectionWatching)

	c.Timeout = 0
	go s.idle(c, pw)
	go s.capPushWait(ctx, pw)

	s.log.Infof("[%s][%s] Entered push-wait with %d message(s)", s.accountID(), folder, mbox.Messages)
	return pw.events, nil
}

// ExitPushWait ends an active push-wait and waits for IDLE to finish. No-op otherwise.
func (s *Session) ExitPushWait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltPushLocked()
}

// haltPushLocked ends the active push-wait and drops the connection if IDLE failed.
func (s *Session) haltPushLocked() {
	s.pushMu.Lock()
	pw := s.push
	s.pushMu.Unlock()
	if pw == nil {
		return
	}

	pw.halt()
	select {
	case <-pw.done:
	case <-time.After(s.cfg.CommandTimeout):
		s.log.Warnf("[%s][%s] Timed out waiting for IDLE to finish", s.accountID(), pw.folder)
		s.finishPush(pw, mailsync_errors.ErrConnectionTimeout)
	}

	if pw.err != nil && mailsync_errors.IsConnectionError(pw.err) {
		s.dropLocked()
	}
}

func (s *Session) idle(c *client.Client, pw *pushWait) {
	err := c.Idle(pw.stop, &client.IdleOptions{
		PollInterval: s.cfg.PushPollInterval,
	})
	if err != nil {
		s.log.Warnf("[%s][%s] IDLE error: %v", s.accountID(), pw.folder, err)
	}
	s.finishPush(pw, err)
}

// finishPush closes the event channel exactly once and restores the connection state.
func (s *Session) finishPush(pw *pushWait, err error) {
	s.pushMu.Lock()
	if s.push != pw {
		s.pushMu.Unlock()
		return
	}
	s.push = nil
	pw.err = err
	close(pw.events)
	s.pushMu.Unlock()

	pw.halt()
	close(pw.done)

	s.stateMu.Lock()
	if err != nil && mailsync_errors.IsConnectionError(err) {
		s.state = enum.ConnectionDisconnected
	} else if s.state == enum.ConnectionWatching {
		s.state = enum.ConnectionAuthenticated
	}
	s.stateMu.Unlock()
	s.log.Infof("[%s][%s] Left push-wait", s.accountID(), pw.folder)
}

func (s *Session) capPushWait(ctx context.Context, pw *pushWait) {
	var capC <-chan time.Time
	if s.cfg.PushWaitCap > 0 {
		timer := time.NewTimer(s.cfg.PushWaitCap)
		defer timer.Stop()
		capC = timer.C
	}

	select {
	case <-ctx.Done():
		s.log.Debugf("[%s][%s] Context cancelled, stopping IDLE", s.accountID(), pw.folder)
	case <-capC:
		s.log.Infof("[%s][%s] Push-wait reached its %s cap", s.accountID(), pw.folder, s.cfg.PushWaitCap)
	case <-pw.done:
		return
	}
	pw.halt()
}

// dispatchUpdates drains the client's unilateral updates for the lifetime of the
// connection and forwards them to the active push-wait.
func (s *Session) dispatchUpdates(updates <-chan client.Update, closed <-chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case update := <-updates:
			s.forward(update)
		}
	}
}

func (s *Session) forward(update client.Update) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	pw := s.push
	if pw == nil {
		return
	}
	event, ok := pw.translate(update)
	if !ok {
		return
	}
	select {
	case pw.events <- event:
	default:
		s.log.Warnf("[%s][%s] Push event buffer full, dropping %s", s.accountID(), pw.folder, event.Kind)
	}
}

func (p *pushWait) translate(update client.Update) (interfaces.PushEvent, bool) {
	switch u := update.(type) {
	case *client.MailboxUpdate:
		if u.Mailbox == nil {
			return interfaces.PushEvent{}, false
		}
		previous := p.exists
		p.exists = u.Mailbox.Messages
		if u.Mailbox.Messages > previous {
			return interfaces.PushEvent{Folder: p.folder, Kind: enum.PushEventNewMail, SeqNum: u.Mailbox.Messages}, true
		}
	case *client.ExpungeUpdate:
		if p.exists > 0 {
			p.exists--
		}
		return interfaces.PushEvent{Folder: p.folder, Kind: enum.PushEventExpunge, SeqNum: u.SeqNum}, true
	case *client.MessageUpdate:
		if u.Message == nil {
			return interfaces.PushEvent{}, false
		}
		return interfaces.PushEvent{Folder: p.folder, Kind: enum.PushEventFlagsChanged, SeqNum: u.Message.SeqNum}, true
	}
	return interfaces.PushEvent{}, false
}
