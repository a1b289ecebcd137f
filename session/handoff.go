package session

import (
	"context"
	"sync"

	"github.com/keywarden/keywarden/interfaces"
)

// Seed is the only material allowed to cross into a signing unit: the
// wrap-key seed and its salt. Never the long-term secret, never the KEK.
type Seed struct {
	WrapKeySeed []byte
	WrapKeySalt []byte
}

// Sender is the sending endpoint of a one-time channel. Usable exactly once.
type Sender struct {
	ch   chan Seed
	once sync.Once
}

// Receiver is the receiving endpoint of a one-time channel. Usable exactly
// once; blocks until the linked Sender delivers.
type Receiver struct {
	ch   chan Seed
	once sync.Once
}

// NewHandoff creates a linked one-time channel pair. A fresh pair is created
// per signing request; endpoints are never reused and never widened to a
// broadcast.
func NewHandoff() (*Sender, *Receiver) {
	ch := make(chan Seed, 1)
	return &Sender{ch: ch}, &Receiver{ch: ch}
}

// Send delivers the seed. A second call fails with ErrChannelSpent.
func (s *Sender) Send(seed Seed) error {
	err := interfaces.ErrChannelSpent
	s.once.Do(func() {
		s.ch <- seed
		err = nil
	})
	return err
}

// Receive blocks until the seed is delivered or the context is canceled.
// A second call fails with ErrChannelSpent.
func (r *Receiver) Receive(ctx context.Context) (Seed, error) {
	var seed Seed
	err := interfaces.ErrChannelSpent
	r.once.Do(func() {
		select {
		case seed = <-r.ch:
			err = nil
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return seed, err
}
