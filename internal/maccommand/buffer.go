package maccommand

import (
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// MaxBufferSize defines the max. serialized size of the buffer.
const MaxBufferSize = 128

// Errors.
var (
	ErrMemory       = errors.New("maccommand: buffer full")
	ErrInvalidSize  = errors.New("maccommand: invalid payload size")
	ErrUnknownCID   = errors.New("maccommand: unknown cid")
	ErrTruncated    = errors.New("maccommand: truncated payload")
	ErrNoConfirmCmd = errors.New("maccommand: no pending command for confirmation")
)

// Command defines an uplink mac-command.
type Command struct {
	CID     lorawan.CID
	Payload []byte
	Sticky  bool
}

// Buffer holds the uplink mac-commands, in insert order.
type Buffer struct {
	commands []Command
}

// Add adds a mac-command to the buffer. The payload size must match the
// size of the command.
func (b *Buffer) Add(cid lorawan.CID, payload []byte) error {
	if size, ok := CommandSize(cid); ok && size != len(payload) {
		return errors.Wrapf(ErrInvalidSize, "cid %s", cid)
	}

	if b.SerializedSize()+1+len(payload) > MaxBufferSize {
		return ErrMemory
	}

	pl := make([]byte, len(payload))
	copy(pl, payload)

	b.commands = append(b.commands, Command{
		CID:     cid,
		Payload: pl,
		Sticky:  IsStickyAnswer(cid),
	})
	return nil
}

// SerializedSize returns the size of all buffered commands.
func (b *Buffer) SerializedSize() int {
	var size int
	for _, c := range b.commands {
		size += 1 + len(c.Payload)
	}
	return size
}

// Serialize returns the commands fitting in the available size, in insert
// order. It stops at the first command not fitting.
func (b *Buffer) Serialize(available int) []byte {
	out := make([]byte, 0, available)
	for _, c := range b.commands {
		if len(out)+1+len(c.Payload) > available {
			break
		}
		out = append(out, byte(c.CID))
		out = append(out, c.Payload...)
	}
	return out
}

// RemoveSerialized removes the non-sticky commands which Serialize(available)
// includes. The commands not fitting are kept for the next frame.
func (b *Buffer) RemoveSerialized(available int) bool {
	var size int
	var removed bool
	out := b.commands[:0]
	for i, c := range b.commands {
		if size+1+len(c.Payload) > available {
			out = append(out, b.commands[i:]...)
			break
		}
		size += 1 + len(c.Payload)
		if c.Sticky {
			out = append(out, c)
		} else {
			removed = true
		}
	}
	b.commands = out
	return removed
}

// Count returns the number of buffered commands.
func (b *Buffer) Count() int {
	return len(b.commands)
}

// Get returns the first command with the given CID.
func (b *Buffer) Get(cid lorawan.CID) (Command, bool) {
	for _, c := range b.commands {
		if c.CID == cid {
			return c, true
		}
	}
	return Command{}, false
}

// Remove removes all commands with the given CID.
func (b *Buffer) Remove(cid lorawan.CID) bool {
	return b.filter(func(c Command) bool { return c.CID != cid })
}

// RemoveNonSticky removes the commands which are not sticky.
func (b *Buffer) RemoveNonSticky() bool {
	return b.filter(func(c Command) bool { return c.Sticky })
}

// RemoveStickyAnswers removes the sticky answers.
func (b *Buffer) RemoveStickyAnswers() bool {
	return b.filter(func(c Command) bool { return !c.Sticky })
}

// StickyPending returns true when sticky answers are pending.
func (b *Buffer) StickyPending() bool {
	for _, c := range b.commands {
		if c.Sticky {
			return true
		}
	}
	return false
}

// Commands returns a copy of the buffered commands.
func (b *Buffer) Commands() []Command {
	out := make([]Command, len(b.commands))
	copy(out, b.commands)
	return out
}

// SetCommands replaces the buffered commands (e.g. on restore).
func (b *Buffer) SetCommands(cmds []Command) error {
	var nb Buffer
	for _, c := range cmds {
		if err := nb.Add(c.CID, c.Payload); err != nil {
			return err
		}
	}
	b.commands = nb.commands
	return nil
}

// Reset removes all commands.
func (b *Buffer) Reset() {
	b.commands = nil
}

func (b *Buffer) filter(keep func(Command) bool) bool {
	var removed bool
	out := b.commands[:0]
	for _, c := range b.commands {
		if keep(c) {
			out = append(out, c)
		} else {
			removed = true
		}
	}
	for i := len(out); i < len(b.commands); i++ {
		b.commands[i] = Command{}
	}
	b.commands = out
	return removed
}
