package registry

import (
	"fmt"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
)

// Validate checks unique ids, that no connection references an unknown
// node, and that no connection is a self-edge; every mutation validates
// before anything is persisted.
func Validate(cfg SwarmConfig) errs.ValidationErrors {
	var out errs.ValidationErrors

	nodes := map[string]bool{mail.Human: true}
	seenBee := make(map[string]bool)
	for _, b := range cfg.Bees {
		if b.ID == "" {
			out = append(out, *errs.NewValidationError("bee id must not be empty"))
			continue
		}
		if b.ID == mail.Human {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("bee id %q collides with reserved human node", b.ID)).WithField("bees").WithValue(b.ID))
			continue
		}
		if seenBee[b.ID] {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("duplicate bee id %q", b.ID)).WithField("bees").WithValue(b.ID))
			continue
		}
		seenBee[b.ID] = true
		nodes[b.ID] = true
	}

	seenMailbox := make(map[string]bool)
	for _, mb := range cfg.Mailboxes {
		id := mail.MailboxPrefix + mb.Name
		if mb.ID == "" || mb.Name == "" {
			out = append(out, *errs.NewValidationError("mailbox id and name must not be empty"))
			continue
		}
		if seenMailbox[mb.ID] {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("duplicate mailbox id %q", mb.ID)).WithField("mailboxes").WithValue(mb.ID))
			continue
		}
		seenMailbox[mb.ID] = true
		nodes[id] = true
		nodes[mb.ID] = true
	}

	for i, c := range cfg.Connections {
		if c.From == c.To {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("connection %d is a self-edge on %q", i, c.From)).WithField("connections").WithValue(c.From))
			continue
		}
		if !nodes[c.From] {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("connection %d references unknown node %q", i, c.From)).WithField("connections").WithValue(c.From))
		}
		if !nodes[c.To] {
			out = append(out, *errs.NewValidationError(fmt.Sprintf("connection %d references unknown node %q", i, c.To)).WithField("connections").WithValue(c.To))
		}
	}

	return out
}
