// Package ingress implements Component A (§4.A): normalization of incoming
// forge/tracker notifications into model.Event values, with
// (mr_id, kind, payload_hash) deduplication over a TTL window.
//
// Grounded on server/webhook.go's delivery-ID idempotency check
// (HasDeliveryBeenProcessed/MarkDeliveryProcessed), generalized from a
// single persisted key to a TTL-windowed in-memory cache, since Actor State
// loss is explicitly tolerated (§3).
package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v2"

	"github.com/networkoptix/robocat/internal/model"
)

// MinDedupWindow is the floor named in §4.A ("T ≥ 30").
const MinDedupWindow = 30 * time.Second

// Feed is the output contract of Component A: events for the same MR id are
// delivered to Submit in receipt order, and Ingress guarantees only that it
// does not reorder what it was given — strict per-MR ordering downstream is
// the Actor Registry's job (Component B).
type Feed interface {
	Submit(evt model.Event)
}

// Ingress deduplicates and forwards normalized events to a Feed.
type Ingress struct {
	seen cache.Cache[string, struct{}]
	next Feed
	now  func() time.Time
}

// New builds an Ingress that forwards deduplicated events to next. window
// must be >= MinDedupWindow; values below the floor are clamped up.
func New(next Feed, window time.Duration) *Ingress {
	if window < MinDedupWindow {
		window = MinDedupWindow
	}
	c := cache.NewCache[string, struct{}]().WithTTL(window)
	return &Ingress{seen: c, next: next, now: time.Now}
}

// Normalize builds a model.Event from raw fields and hands it to Submit.
// kind and payload come from whatever embedding (webhook server, long-poll,
// message queue — §9) produced the normalized notification.
func (i *Ingress) Normalize(mrID string, kind model.EventKind, payload []byte) {
	i.Submit(model.Event{
		MRID:       mrID,
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: i.now(),
	})
}

// Submit deduplicates evt against the last MinDedupWindow-or-more seconds of
// traffic for the same (mr_id, kind, payload_hash) and, if novel, forwards it
// to the configured Feed.
func (i *Ingress) Submit(evt model.Event) {
	key := dedupKey(evt)
	if _, found := i.seen.Get(key); found {
		return // duplicate within the window — dropped silently, per §4.A.
	}
	i.seen.Set(key, struct{}{}, 0) // 0 == use the cache's configured TTL
	i.next.Submit(evt)
}

func dedupKey(evt model.Event) string {
	h := sha256.New()
	h.Write([]byte(evt.MRID))
	h.Write([]byte{0})
	h.Write([]byte(evt.Kind))
	h.Write([]byte{0})
	h.Write(evt.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Tick emits a synthetic timer_tick event for mrID — the periodic
// reconciliation path named in §4.A and supplemented in SPEC_FULL PART 5.
func (i *Ingress) Tick(mrID string) {
	i.Submit(model.Event{MRID: mrID, Kind: model.EventTimerTick, ReceivedAt: i.now()})
}
