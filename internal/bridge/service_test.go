package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/auth/credentials"
	authhubspot "github.com/pysugar/hubspot-bridge/internal/auth/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/auth/token"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/feeds"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote is an in-memory CRM serving the endpoints the bridge calls.
type fakeRemote struct {
	t *testing.T

	mu          sync.Mutex
	forms       map[string]hubspot.Form
	seq         int
	submissions map[string][]hubspot.Submission
	revoked     []string
	owners      []hubspot.Owner
	contactsErr int
}

func newFakeRemote(t *testing.T) (*fakeRemote, *httptest.Server) {
	f := &fakeRemote{t: t, forms: map[string]hubspot.Form{}, submissions: map[string][]hubspot.Submission{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /properties/v1/contacts/groups/{$}", f.groups)
	mux.HandleFunc("GET /forms/v2/forms", f.listForms)
	mux.HandleFunc("POST /forms/v2/forms", f.createForm)
	mux.HandleFunc("GET /forms/v2/forms/{guid}", f.getForm)
	mux.HandleFunc("POST /forms/v2/forms/{guid}", f.updateForm)
	mux.HandleFunc("DELETE /forms/v2/forms/{guid}", f.deleteForm)
	mux.HandleFunc("GET /crm/v3/owners", f.listOwners)
	mux.HandleFunc("GET /contacts/v1/lists/all/contacts/all", f.contacts)
	mux.HandleFunc("POST /submissions/v3/integration/submit/{portal}/{guid}", f.submit)
	mux.HandleFunc("DELETE /oauth/v1/refresh-tokens/{token}", f.revoke)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRemote) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeRemote) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer access-1" {
		f.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired", "category": "EXPIRED_AUTHENTICATION"})
		return false
	}
	return true
}

func (f *fakeRemote) groups(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.writeJSON(w, http.StatusOK, []hubspot.PropertyGroup{{
		Name:        "contactinformation",
		DisplayName: "Contact Information",
		Properties: []hubspot.Property{
			{Name: "email", Label: "Email", Type: "string", FieldType: "text"},
			{Name: "firstname", Label: "First Name", Type: "string", FieldType: "text"},
			{Name: "lifecyclestage", Label: "Lifecycle Stage", Type: "enumeration", FieldType: "radio",
				Options: []hubspot.Option{{Label: "Lead", Value: "lead"}}},
			{Name: "phone", Label: "Phone Number", Type: "string", FieldType: "text"},
		},
	}})
}

func (f *fakeRemote) listForms(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []hubspot.Form{}
	for _, form := range f.forms {
		out = append(out, form)
	}
	f.writeJSON(w, http.StatusOK, out)
}

func (f *fakeRemote) createForm(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var form hubspot.Form
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&form))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	form.GUID = fmt.Sprintf("guid-%d", f.seq)
	form.PortalID = 777
	f.forms[form.GUID] = form
	f.writeJSON(w, http.StatusOK, form)
}

func (f *fakeRemote) getForm(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[r.PathValue("guid")]
	if !ok {
		f.writeJSON(w, http.StatusNotFound, map[string]string{"message": "Form not found"})
		return
	}
	f.writeJSON(w, http.StatusOK, form)
}

func (f *fakeRemote) updateForm(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var form hubspot.Form
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&form))
	f.mu.Lock()
	defer f.mu.Unlock()
	form.GUID = r.PathValue("guid")
	form.PortalID = 777
	f.forms[form.GUID] = form
	f.writeJSON(w, http.StatusOK, form)
}

func (f *fakeRemote) deleteForm(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.mu.Lock()
	delete(f.forms, r.PathValue("guid"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) listOwners(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeJSON(w, http.StatusOK, map[string]any{"results": f.owners})
}

func (f *fakeRemote) contacts(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	f.mu.Lock()
	status := f.contactsErr
	f.mu.Unlock()
	if status != 0 {
		f.writeJSON(w, status, map[string]string{"message": "unavailable"})
		return
	}
	f.writeJSON(w, http.StatusOK, map[string]any{"contacts": []hubspot.Contact{{VID: 1}}})
}

func (f *fakeRemote) submit(w http.ResponseWriter, r *http.Request) {
	var sub hubspot.Submission
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&sub))
	f.mu.Lock()
	key := r.PathValue("portal") + "/" + r.PathValue("guid")
	f.submissions[key] = append(f.submissions[key], sub)
	f.mu.Unlock()
	f.writeJSON(w, http.StatusOK, map[string]string{"inlineMessage": "Thanks"})
}

func (f *fakeRemote) revoke(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		f.t.Errorf("revoke must not carry a bearer token")
	}
	f.mu.Lock()
	f.revoked = append(f.revoked, r.PathValue("token"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) form(guid string) (hubspot.Form, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[guid]
	return form, ok
}

func (f *fakeRemote) drop(guid string) {
	f.mu.Lock()
	delete(f.forms, guid)
	f.mu.Unlock()
}

func (f *fakeRemote) formCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forms)
}

// stubRefresher fails unless a grant is set, and counts calls.
type stubRefresher struct {
	mu    sync.Mutex
	grant *token.Grant
	calls int
}

func (r *stubRefresher) Refresh(context.Context, string) (token.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.grant == nil {
		return token.Grant{}, errs.E(errs.TemporarilyUnavailable, "test", "refresh not expected")
	}
	return *r.grant, nil
}

func (r *stubRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	svc       *Service
	remote    *fakeRemote
	refresher *stubRefresher
	now       time.Time
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	remote, srv := newFakeRemote(t)
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.APIBaseURL = srv.URL + "/"
	cfg.FormsBaseURL = srv.URL
	cfg.BrokerURL = "https://broker.example.com/v1"
	cfg.RateRPS = 0

	fx := &fixture{
		remote:    remote,
		refresher: &stubRefresher{},
		now:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.svc = New(cfg, gdb, WithRefresher(fx.refresher), WithClock(func() time.Time { return fx.now }))
	if connected {
		require.NoError(t, fx.svc.creds.Save(context.Background(), credentials.TokenRecord{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			IssuedAt:     fx.now,
			TTLSeconds:   1800,
		}))
	}
	return fx
}

func leadFeed() *feeds.Feed {
	return &feeds.Feed{
		FormID:         3,
		Name:           "Leads feed",
		IsActive:       true,
		RemoteFormName: "Leads",
		Mappings: []feeds.Mapping{
			{Property: "email", Source: "2"},
			{Property: "lifecyclestage", Source: "lead"},
		},
		Additional: []feeds.Mapping{{Property: "phone", Source: "4"}},
	}
}

func TestSaveFeed_CreatesThenUpdatesSameForm(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)
	assert.Equal(t, "guid-1", saved.RemoteFormGUID)
	assert.Equal(t, "777", saved.RemoteAccountID)

	remote, ok := fx.remote.form("guid-1")
	require.True(t, ok)
	assert.Equal(t, "Leads ( Do not delete or edit )", remote.Name)
	require.Len(t, remote.SelectedExternalOptions, 2)

	saved.Name = "Renamed"
	again, err := fx.svc.SaveFeed(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, "guid-1", again.RemoteFormGUID)
	assert.Equal(t, 1, fx.remote.formCount())

	stored, err := fx.svc.GetFeed(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestSaveFeed_SelfHealsAndKeepsLocalStateOnFailure(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)
	fx.remote.drop(saved.RemoteFormGUID)

	healed, err := fx.svc.SaveFeed(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, "guid-2", healed.RemoteFormGUID)

	other := leadFeed()
	_, err = fx.svc.SaveFeed(ctx, other)
	assert.ErrorIs(t, err, errs.Validation)
	all, err := fx.svc.ListFeeds(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveFeed_Validation(t *testing.T) {
	fx := newFixture(t, true)
	f := leadFeed()
	f.Mappings = nil
	f.RemoteFormName = ""

	_, err := fx.svc.SaveFeed(context.Background(), f)
	require.ErrorIs(t, err, errs.Validation)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Len(t, e.Details, 2)
	assert.Zero(t, fx.remote.formCount())
}

func TestSaveFeed_ConcurrentSaveFailsFast(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	lock := fmt.Sprintf("%s_feed_%d", fx.svc.cfg.Installation, saved.ID)
	ok, err := fx.svc.store.TryAcquire(ctx, lock, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = fx.svc.SaveFeed(ctx, saved)
	assert.ErrorIs(t, err, errs.TemporarilyUnavailable)
}

func TestSaveFeed_NotConnected(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.svc.SaveFeed(context.Background(), leadFeed())
	assert.ErrorIs(t, err, errs.Unauthenticated)
}

func TestDeleteFeed_RemovesRemoteForm(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	require.NoError(t, fx.svc.DeleteFeed(ctx, saved.ID))
	assert.Zero(t, fx.remote.formCount())
	_, err = fx.svc.GetFeed(ctx, saved.ID)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestProcessEntry(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	form := &submission.Form{ID: 3, Title: "Contact", Fields: []submission.Field{{ID: "2", Type: "email"}, {ID: "4", Type: "phone"}}}
	entry := &submission.Entry{ID: 9, FormID: 3, SourceURL: "https://example.com/p", IP: "198.51.100.2",
		Values: map[string]string{"2": "a@example.com", "4": "555"}}

	require.NoError(t, fx.svc.DeferEntry(ctx, entry, "hutk-1"))
	results, err := fx.svc.ProcessEntry(ctx, form, entry, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, EntryResult{FeedID: saved.ID, Outcome: submission.Sent}, results[0])

	subs := fx.remote.submissions["777/"+saved.RemoteFormGUID]
	require.Len(t, subs, 1)
	assert.Equal(t, "hutk-1", subs[0].Context.Hutk)
	assert.Contains(t, subs[0].Fields, hubspot.SubmissionField{Name: "email", Value: "a@example.com"})
	assert.Contains(t, subs[0].Fields, hubspot.SubmissionField{Name: "lifecyclestage", Value: "lead"})
	assert.Contains(t, subs[0].Fields, hubspot.SubmissionField{Name: "phone", Value: "555"})
}

func TestProcessEntry_UsesExpiredTokenWithoutRefresh(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	_, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	require.NoError(t, fx.svc.creds.Save(ctx, credentials.TokenRecord{
		AccessToken: "access-1", RefreshToken: "refresh-1", IssuedAt: fx.now.Add(-time.Hour), TTLSeconds: 60,
	}))
	form := &submission.Form{ID: 3, Title: "Contact"}
	entry := &submission.Entry{ID: 1, FormID: 3, Values: map[string]string{"2": "b@example.com"}}

	results, err := fx.svc.ProcessEntry(ctx, form, entry, "")
	require.NoError(t, err)
	assert.Equal(t, submission.Sent, results[0].Outcome)
}

func TestProcessEntry_RefreshesForExpiredSchemaCache(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	// Both the token and the cached schema are past their lifetime.
	fx.now = fx.now.Add(2 * time.Hour)
	require.NoError(t, fx.svc.creds.Save(ctx, credentials.TokenRecord{
		AccessToken: "access-0", RefreshToken: "refresh-1", IssuedAt: fx.now.Add(-time.Hour), TTLSeconds: 1800,
	}))
	fx.refresher.grant = &token.Grant{AccessToken: "access-1", ExpiresIn: 1800}

	form := &submission.Form{ID: 3, Title: "Contact", Fields: []submission.Field{{ID: "2", Type: "email"}}}
	for i := 1; i <= 2; i++ {
		entry := &submission.Entry{ID: i, FormID: 3, Values: map[string]string{"2": "c@example.com"}}
		results, err := fx.svc.ProcessEntry(ctx, form, entry, "")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, EntryResult{FeedID: saved.ID, Outcome: submission.Sent}, results[0])
	}

	assert.Equal(t, 1, fx.refresher.callCount())
	fx.remote.mu.Lock()
	defer fx.remote.mu.Unlock()
	assert.Len(t, fx.remote.submissions["777/"+saved.RemoteFormGUID], 2)
}

func TestOwners_SortedWithFallbackLabels(t *testing.T) {
	fx := newFixture(t, true)
	fx.remote.owners = []hubspot.Owner{
		{ID: "1", FirstName: "Zed", LastName: "Zulu"},
		{ID: "2", Email: "amy@example.com", FirstName: "Amy"},
		{ID: "3"},
		{ID: "", Email: "skip@example.com"},
	}

	owners, err := fx.svc.Owners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Choice{
		{Label: "No Name", Value: "3"},
		{Label: "Zed Zulu", Value: "1"},
		{Label: "amy@example.com", Value: "2"},
	}, owners)
}

func TestStatus(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	st, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, authhubspot.Disconnected, st.State)

	_, err = fx.svc.Connect(ctx, "https://admin.example.com/settings")
	require.NoError(t, err)
	st, err = fx.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, authhubspot.AwaitingCallback, st.State)
}

func TestStatus_Connected(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	st, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Connected)

	fx.remote.mu.Lock()
	fx.remote.contactsErr = http.StatusServiceUnavailable
	fx.remote.mu.Unlock()
	st, err = fx.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Equal(t, config.DefaultSupportURL, st.SupportURL)
}

func TestCompleteAuthorization_RecreatesMissingForms(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	orphan := leadFeed()
	orphan.RemoteFormGUID = "deleted-while-disconnected"
	orphan.Owner = feeds.OwnerRule{Mode: feeds.OwnerSelect, OwnerID: "5"}
	require.NoError(t, fx.svc.feeds.Create(ctx, orphan))

	link, err := fx.svc.Connect(ctx, "https://admin.example.com/settings")
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	state := u.Query().Get("state")

	payload, _ := json.Marshal(map[string]any{"access_token": "access-1", "refresh_token": "refresh-1", "expires_in": 1800})
	done, err := fx.svc.CompleteAuthorization(ctx, authhubspot.CallbackPayload{
		AuthPayload: base64.StdEncoding.EncodeToString(payload),
		State:       state,
	})
	require.NoError(t, err)
	assert.True(t, done.Updated)

	got, err := fx.svc.GetFeed(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, "guid-1", got.RemoteFormGUID)
	assert.Equal(t, "777", got.RemoteAccountID)
	assert.Equal(t, feeds.OwnerNone, got.Owner.Mode)
}

func TestDeauthorize_Account(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	require.ErrorIs(t, fx.svc.Deauthorize(ctx, "bogus"), errs.Validation)
	require.NoError(t, fx.svc.Deauthorize(ctx, ScopeAccount))

	assert.Zero(t, fx.remote.formCount())
	assert.Equal(t, []string{"refresh-1"}, fx.remote.revoked)
	_, err = fx.svc.creds.Load(ctx)
	assert.ErrorIs(t, err, errs.NotFound)

	kept, err := fx.svc.GetFeed(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.RemoteFormGUID, kept.RemoteFormGUID)
}

func TestDeauthorize_SiteDoesNotRevoke(t *testing.T) {
	fx := newFixture(t, true)
	require.NoError(t, fx.svc.Deauthorize(context.Background(), ScopeSite))
	assert.Empty(t, fx.remote.revoked)
}

func TestReconcileAllMissing(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()
	saved, err := fx.svc.SaveFeed(ctx, leadFeed())
	require.NoError(t, err)

	res, err := fx.svc.ReconcileAllMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)

	fx.remote.drop(saved.RemoteFormGUID)
	res, err = fx.svc.ReconcileAllMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}
