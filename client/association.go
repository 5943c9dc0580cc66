// Package client implements the Storage SCU: it negotiates an association
// for a set of objects, sends each one with C-STORE and reports a per-object
// outcome. It also provides a C-ECHO SCU.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dicomstore/association"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Defaults applied by Config when a field is left empty.
const (
	DefaultCallingAETitle = "STORESCU"
	DefaultCalledAETitle  = "ANY-SCP"
	DefaultConcurrency    = 4
)

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32               // default: 16384
	ConnectTimeout time.Duration        // Timeout for establishing connection (default: 30s)
	Timeouts       association.Timeouts // read, write and release timeouts
	TLSConfig      *tls.Config          // nil means plain TCP
	Counter        association.Counter  // association numbering (default: private counter)
	StatusHandler  association.StatusHandler
	Metrics        *metrics.Collector
	Logger         *slog.Logger // Logger for the association (default: slog.Default())

	// SeparateTransferSyntaxContexts proposes one presentation context per
	// (SOP class, transfer syntax) pair instead of one per SOP class.
	SeparateTransferSyntaxContexts bool

	// Concurrency bounds how many files are read at once while resolving a
	// job (default: 4).
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.CallingAETitle == "" {
		c.CallingAETitle = DefaultCallingAETitle
	}
	if c.CalledAETitle == "" {
		c.CalledAETitle = DefaultCalledAETitle
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) requestConfig(contexts []*types.PresentationContext) association.RequestConfig {
	return association.RequestConfig{
		CallingAETitle:       c.CallingAETitle,
		CalledAETitle:        c.CalledAETitle,
		PresentationContexts: contexts,
		MaxPDULength:         c.MaxPDULength,
		ConnectTimeout:       c.ConnectTimeout,
		Timeouts:             c.Timeouts,
		TLSConfig:            c.TLSConfig,
		Counter:              c.Counter,
		StatusHandler:        c.StatusHandler,
		Logger:               c.Logger,
	}
}

// session pairs requests with responses on an established association.
type session struct {
	assoc     *association.Association
	messageID uint16
}

func (s *session) nextMessageID() uint16 {
	s.messageID++
	if s.messageID == 0 {
		s.messageID = 1
	}
	return s.messageID
}

// exchange sends cmd with its dataset and waits for the response to it.
// Responses to other message IDs are skipped.
func (s *session) exchange(ctx context.Context, contextID byte, cmd *types.Message, data []byte) (*types.Message, error) {
	if err := s.assoc.SendMessage(ctx, contextID, cmd, data); err != nil {
		return nil, err
	}
	for {
		msg, err := s.assoc.ReceiveMessage(ctx)
		if err != nil {
			return nil, err
		}
		rsp := msg.Command
		if !rsp.IsResponse() || rsp.MessageIDBeingRespondedTo != cmd.MessageID {
			continue
		}
		if rsp.CommandField != types.ResponseCommandFor(cmd.CommandField) {
			return nil, fmt.Errorf("%w: got 0x%04x in response to 0x%04x",
				dicomerrors.ErrInvalidMessage, rsp.CommandField, cmd.CommandField)
		}
		return rsp, nil
	}
}
