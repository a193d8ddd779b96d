package hubspot

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/auth/credentials"
	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestHandshake(t *testing.T) (*Handshake, *credentials.Store, *store.Store) {
	t.Helper()
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)
	st := store.New(gdb, store.WithClock(func() time.Time { return testNow }))
	creds := credentials.NewStore(gdb, "gravityformshubspot")
	h := NewHandshake("gravityformshubspot", "https://broker.test/v1/", "lic-1", st, creds)
	h.now = func() time.Time { return testNow }
	return h, creds, st
}

func encodePayload(json string) string {
	return base64.StdEncoding.EncodeToString([]byte(json))
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestBegin_BuildsBrokerURLAndStoresNonce(t *testing.T) {
	h, _, _ := newTestHandshake(t)
	ctx := context.Background()

	authURL, err := h.Begin(ctx, "https://site.test/settings")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "broker.test", u.Host)
	assert.Equal(t, "/v1/auth/hubspot", u.Path)
	assert.Equal(t, "https://site.test/settings", u.Query().Get("redirect_to"))
	assert.Equal(t, "lic-1", u.Query().Get("license"))
	assert.Len(t, u.Query().Get("state"), 32)

	state, err := h.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingCallback, state)
}

func TestBegin_ReplacesOlderNonce(t *testing.T) {
	h, _, _ := newTestHandshake(t)
	ctx := context.Background()

	first, _ := h.Begin(ctx, "r")
	second, _ := h.Begin(ctx, "r")

	_, err := h.Complete(ctx, CallbackPayload{AuthPayload: encodePayload(`{"access_token":"a"}`), State: stateFromURL(t, first)})
	assert.True(t, errors.Is(err, errs.StateMismatch), "older nonce must be invalid")

	_, err = h.Complete(ctx, CallbackPayload{AuthPayload: encodePayload(`{"access_token":"a"}`), State: stateFromURL(t, second)})
	assert.NoError(t, err)
}

func TestComplete_DirectPayloadStoresCredentials(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")

	done, err := h.Complete(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a1","refresh_token":"r1","expires_in":1800}`),
		State:       stateFromURL(t, authURL),
	})
	require.NoError(t, err)
	assert.True(t, done.Updated)

	rec, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.AccessToken)
	assert.Equal(t, "r1", rec.RefreshToken)
	assert.Equal(t, 1800, rec.TTLSeconds)
	assert.True(t, rec.IssuedAt.Equal(testNow))

	state, _ := h.State(ctx)
	assert.Equal(t, Connected, state)
}

func TestComplete_SameAccessTokenIsNotRewritten(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	require.NoError(t, creds.Save(ctx, credentials.TokenRecord{AccessToken: "a1", RefreshToken: "r0", IssuedAt: testNow.Add(-time.Hour)}))

	authURL, _ := h.Begin(ctx, "r")
	done, err := h.Complete(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a1","refresh_token":"r1","expires_in":1800}`),
		State:       stateFromURL(t, authURL),
	})
	require.NoError(t, err)
	assert.False(t, done.Updated)

	rec, _ := creds.Load(ctx)
	assert.Equal(t, "r0", rec.RefreshToken)
}

func TestComplete_StateMismatchKeepsNonce(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")

	_, err := h.Complete(ctx, CallbackPayload{AuthPayload: encodePayload(`{"access_token":"a1"}`), State: "forged"})
	require.Error(t, err)
	assert.Equal(t, errs.StateMismatch, errs.KindOf(err))

	_, err = creds.Load(ctx)
	assert.True(t, errors.Is(err, errs.NotFound), "nothing may be stored on mismatch")

	_, err = h.Complete(ctx, CallbackPayload{AuthPayload: encodePayload(`{"access_token":"a1"}`), State: stateFromURL(t, authURL)})
	assert.NoError(t, err, "the original nonce stays valid for a retry")
}

func TestComplete_AuthErrorIsUnauthenticated(t *testing.T) {
	h, _, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")

	_, err := h.Complete(ctx, CallbackPayload{AuthError: "access_denied", State: stateFromURL(t, authURL)})
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
	assert.Equal(t, "Unable to connect your HubSpot account.", errs.MessageOf(err))
}

func TestComplete_AsyncResponseIsConsumedOnce(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")
	nonce := stateFromURL(t, authURL)

	require.NoError(t, h.StoreAsyncResponse(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a9","refresh_token":"r9","expires_in":60}`),
		State:       nonce,
	}))

	done, err := h.Complete(ctx, CallbackPayload{})
	require.NoError(t, err)
	assert.True(t, done.Updated)
	rec, _ := creds.Load(ctx)
	assert.Equal(t, "a9", rec.AccessToken)

	_, err = h.Complete(ctx, CallbackPayload{})
	assert.True(t, errors.Is(err, errs.NotFound), "async response must be consumed")
}

func TestComplete_AsyncResponseKeptOnStateMismatch(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")
	nonce := stateFromURL(t, authURL)

	require.NoError(t, h.StoreAsyncResponse(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a9","refresh_token":"r9","expires_in":60}`),
		State:       "stale",
	}))
	_, err := h.Complete(ctx, CallbackPayload{})
	assert.Equal(t, errs.StateMismatch, errs.KindOf(err))
	_, err = creds.Load(ctx)
	assert.True(t, errors.Is(err, errs.NotFound))

	// A later async post with the right state replaces the cached one.
	require.NoError(t, h.StoreAsyncResponse(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a9","refresh_token":"r9","expires_in":60}`),
		State:       nonce,
	}))
	_, err = h.Complete(ctx, CallbackPayload{})
	require.NoError(t, err)
}

func TestComplete_AsyncResponseSurvivesMismatchUntilMatched(t *testing.T) {
	h, _, st := newTestHandshake(t)
	ctx := context.Background()
	h.Begin(ctx, "r")

	require.NoError(t, h.StoreAsyncResponse(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a9"}`),
		State:       "stale",
	}))
	_, err := h.Complete(ctx, CallbackPayload{})
	require.Error(t, err)

	_, ok, err := st.GetTransient(ctx, "gravityformshubspot_oauth_response")
	require.NoError(t, err)
	assert.True(t, ok, "cached response must not be discarded on mismatch")
}

func TestComplete_PayloadStateMustMatchNonce(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")
	nonce := stateFromURL(t, authURL)

	_, err := h.Complete(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a1","refresh_token":"r1","state":"other"}`),
		State:       nonce,
	})
	assert.Equal(t, errs.StateMismatch, errs.KindOf(err))
	_, err = creds.Load(ctx)
	assert.True(t, errors.Is(err, errs.NotFound))

	_, err = h.Complete(ctx, CallbackPayload{
		AuthPayload: encodePayload(`{"access_token":"a1","refresh_token":"r1","state":"` + nonce + `"}`),
		State:       nonce,
	})
	assert.NoError(t, err)
}

func TestComplete_MalformedPayload(t *testing.T) {
	h, _, _ := newTestHandshake(t)
	ctx := context.Background()
	authURL, _ := h.Begin(ctx, "r")

	_, err := h.Complete(ctx, CallbackPayload{AuthPayload: "%%%not-base64", State: stateFromURL(t, authURL)})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestDisconnect(t *testing.T) {
	h, creds, _ := newTestHandshake(t)
	ctx := context.Background()
	require.NoError(t, creds.Save(ctx, credentials.TokenRecord{AccessToken: "a"}))

	require.NoError(t, h.Disconnect(ctx))
	state, err := h.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, state)
	assert.True(t, strings.HasSuffix(h.requestKey, "_oauth_request"))
}
