package webhookserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/ingress"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
)

type recordingFeed struct {
	events []model.Event
}

func (f *recordingFeed) Submit(evt model.Event) {
	f.events = append(f.events, evt)
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(secret []byte, feed *recordingFeed) *Server {
	ing := ingress.New(feed, ingress.MinDedupWindow)
	return New(secret, ing, logging.New("ERROR"))
}

func TestHandleForgeWebhook_MergeRequestEventNormalizesToMRUpdated(t *testing.T) {
	secret := []byte("shh")
	feed := &recordingFeed{}
	s := newTestServer(secret, feed)

	body := []byte(`{"object_attributes":{"iid":42}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/forge", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventMergeRequest)
	req.Header.Set(signatureHeader, sign(secret, body))
	req.Header.Set(deliveryHeader, "delivery-1")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, feed.events, 1)
	assert.Equal(t, "42", feed.events[0].MRID)
	assert.Equal(t, model.EventMRUpdated, feed.events[0].Kind)
}

func TestHandleForgeWebhook_InvalidSignatureRejected(t *testing.T) {
	feed := &recordingFeed{}
	s := newTestServer([]byte("shh"), feed)

	body := []byte(`{"object_attributes":{"iid":1}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/forge", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventMergeRequest)
	req.Header.Set(signatureHeader, "sha256=deadbeef")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, feed.events)
}

func TestHandleForgeWebhook_DuplicateDeliveryIsSkipped(t *testing.T) {
	secret := []byte("shh")
	feed := &recordingFeed{}
	s := newTestServer(secret, feed)

	body := []byte(`{"merge_request":{"iid":7}}`)
	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/forge", bytes.NewReader(body))
		req.Header.Set(eventHeader, eventNote)
		req.Header.Set(signatureHeader, sign(secret, body))
		req.Header.Set(deliveryHeader, "delivery-dup")
		return req
	}

	s.ServeHTTP(httptest.NewRecorder(), makeReq())
	s.ServeHTTP(httptest.NewRecorder(), makeReq())

	assert.Len(t, feed.events, 1)
}

func TestHandleForgeWebhook_UnknownEventTypeIsIgnored(t *testing.T) {
	secret := []byte("shh")
	feed := &recordingFeed{}
	s := newTestServer(secret, feed)

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/forge", bytes.NewReader(body))
	req.Header.Set(eventHeader, "Tag Push Hook")
	req.Header.Set(signatureHeader, sign(secret, body))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, feed.events)
}
