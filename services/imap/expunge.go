package imap

import (
	go_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/pkg/errors"
)

const capUIDPlus = "UIDPLUS"

// expungeUIDs permanently removes the given messages of the selected folder and no
// others. With UIDPLUS this is UID EXPUNGE. Without it, messages other clients marked
// \Deleted are unmarked around a plain EXPUNGE and marked again afterwards.
func expungeUIDs(c *client.Client, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	target := new(go_imap.SeqSet)
	target.AddNum(uids...)

	supported, err := c.Support(capUIDPlus)
	if err != nil {
		return err
	}
	if supported {
		return uidExpunge(c, target)
	}

	others, err := otherDeleted(c, uids)
	if err != nil {
		return err
	}
	if others == nil {
		return c.Expunge(nil)
	}

	if err := storeFlagsOn(c, others, []string{go_imap.DeletedFlag}, false); err != nil {
		return err
	}
	expungeErr := c.Expunge(nil)
	if err := storeFlagsOn(c, others, []string{go_imap.DeletedFlag}, true); err != nil {
		if expungeErr != nil {
			return expungeErr
		}
		return errors.Wrap(err, "failed to restore \\Deleted on other messages")
	}
	return expungeErr
}

func uidExpunge(c *client.Client, seqset *go_imap.SeqSet) error {
	cmd := &commands.Uid{Cmd: &go_imap.Command{
		Name:      "EXPUNGE",
		Arguments: []interface{}{seqset},
	}}
	status, err := c.Execute(cmd, nil)
	if err != nil {
		return err
	}
	return status.Err()
}

// otherDeleted returns the \Deleted messages outside uids, nil when there are none.
func otherDeleted(c *client.Client, uids []uint32) (*go_imap.SeqSet, error) {
	criteria := go_imap.NewSearchCriteria()
	criteria.WithFlags = []string{go_imap.DeletedFlag}
	found, err := c.UidSearch(criteria)
	if err != nil {
		return nil, err
	}

	exclude := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		exclude[uid] = true
	}
	var others *go_imap.SeqSet
	for _, uid := range found {
		if exclude[uid] {
			continue
		}
		if others == nil {
			others = new(go_imap.SeqSet)
		}
		others.AddNum(uid)
	}
	return others, nil
}
