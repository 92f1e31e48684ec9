// Package router dispatches chat and file frames: every routed message is
// appended to durable history, then delivered to one recipient or broadcast
// to every session with an established key.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/seitanmen/QuickMessenger/internal/common"
	"github.com/seitanmen/QuickMessenger/internal/logging"
	"github.com/seitanmen/QuickMessenger/internal/server/models"
	"github.com/seitanmen/QuickMessenger/internal/server/sessions"
	"github.com/seitanmen/QuickMessenger/internal/server/wire"
)

// MaxFileBytes bounds the decoded size of a file transfer.
const MaxFileBytes int64 = 5 << 30 // 5 GiB

// History is the durable append-only message store.
type History interface {
	Append(ctx context.Context, msg models.Message) error
}

// PeerSet supplies delivery targets: all live connections for broadcasts and
// the connection bound to a given user for direct messages. Implemented by
// the transport layer.
type PeerSet interface {
	All() []sessions.Peer
	ByUser(userID string) (sessions.Peer, bool)
}

type Router struct {
	history      History
	peers        PeerSet
	logger       logging.Logger
	now          func() time.Time
	maxFileBytes int64
}

func New(history History, peers PeerSet, logger logging.Logger) *Router {
	return &Router{
		history:      history,
		peers:        peers,
		logger:       logger.With("module", "router"),
		now:          time.Now,
		maxFileBytes: MaxFileBytes,
	}
}

// RouteMessage persists and delivers a chat message. Delivery to an offline
// recipient is a silent no-op; history still records the message.
func (r *Router) RouteMessage(ctx context.Context, msg wire.Message) error {
	msg.Type = wire.KindMessage
	msg.Timestamp = r.timestamp()

	record := models.Message{
		Kind:      string(wire.KindMessage),
		From:      msg.From,
		To:        msg.To,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	if err := r.history.Append(ctx, record); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	r.deliver(ctx, msg.To, msg)
	return nil
}

// RouteFile persists and delivers a file transfer. Payloads whose decoded
// size exceeds MaxFileBytes are dropped before persistence or delivery; per
// the baseline protocol no error frame is sent back.
func (r *Router) RouteFile(ctx context.Context, f wire.File) error {
	size := decodedBase64Size(f.FileData)
	if size > r.maxFileBytes {
		r.logger.Warn(ctx, "file payload exceeds size limit, dropping",
			"filename", f.Filename, "from", f.From, "size", size)
		return common.ErrPayloadTooLarge
	}

	f.Type = wire.KindFile
	f.FileSize = size
	f.Timestamp = r.timestamp()

	record := models.Message{
		Kind:      string(wire.KindFile),
		From:      f.From,
		To:        f.To,
		Filename:  f.Filename,
		FileData:  f.FileData,
		FileSize:  size,
		Timestamp: f.Timestamp,
	}
	if err := r.history.Append(ctx, record); err != nil {
		return fmt.Errorf("persist file: %w", err)
	}

	r.deliver(ctx, f.To, f)
	return nil
}

// Broadcast seals v to every connection with an established session key.
func (r *Router) Broadcast(ctx context.Context, v any) {
	for _, p := range r.peers.All() {
		if !p.Established() {
			continue
		}
		if err := p.SendFrame(v); err != nil {
			r.logger.Warn(ctx, "broadcast send failed", "peer", p.RemoteAddr(), "error", err)
		}
	}
}

func (r *Router) deliver(ctx context.Context, to string, v any) {
	if to == common.BroadcastRecipient {
		r.Broadcast(ctx, v)
		return
	}

	peer, ok := r.peers.ByUser(to)
	if !ok || !peer.Established() {
		// Recipient offline: history already has the message.
		return
	}
	if err := peer.SendFrame(v); err != nil {
		r.logger.Warn(ctx, "direct send failed", "peer", peer.RemoteAddr(), "error", err)
	}
}

func (r *Router) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// decodedBase64Size computes the decoded byte count of a standard base64
// string from its length and padding, without decoding the payload.
func decodedBase64Size(s string) int64 {
	n := int64(len(s))
	if n == 0 {
		return 0
	}
	size := n / 4 * 3
	if s[len(s)-1] == '=' {
		size--
		if len(s) >= 2 && s[len(s)-2] == '=' {
			size--
		}
	}
	return size
}
