// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/auth"
	"github.com/cosypolyamory/site/internal/db/kvdb"
	"github.com/cosypolyamory/site/internal/live"
	"github.com/cosypolyamory/site/internal/model"
)

type reviewRecorder struct {
	reviewed []string
	roles    []string
}

func (r *reviewRecorder) ApplicationReviewed(_ context.Context, u *model.User, app *model.Application) error {
	r.reviewed = append(r.reviewed, u.ID+":"+string(app.Status))
	return nil
}

func (r *reviewRecorder) RoleChanged(_ context.Context, u *model.User, from, to model.Role) error {
	r.roles = append(r.roles, u.ID+":"+string(from)+"->"+string(to))
	return nil
}

type testSite struct {
	srv     *Server
	issuer  *auth.Issuer
	stores  Stores
	reviews *reviewRecorder
}

func newTestSite(t *testing.T, mutate func(*Config)) *testSite {
	t.Helper()
	ctx := context.Background()
	bdb, err := bolt.Open(filepath.Join(t.TempDir(), "site.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	var stores Stores
	stores.Users, err = kvdb.NewUserStore(bdb)
	require.NoError(t, err)
	stores.Events, err = kvdb.NewEventStore(bdb)
	require.NoError(t, err)
	stores.RSVPs, err = kvdb.NewRSVPStore(bdb)
	require.NoError(t, err)
	stores.Applications, err = kvdb.NewApplicationStore(bdb)
	require.NoError(t, err)
	stores.NoShows, err = kvdb.NewNoShowStore(bdb)
	require.NoError(t, err)
	stores.EventNotes, err = kvdb.NewEventNoteStore(bdb)
	require.NoError(t, err)

	for _, u := range []*model.User{
		{ID: "google_admin", Name: "Ada Admin", Email: "ada@example.org", Role: model.RoleAdmin},
		{ID: "google_org", Name: "Olga Organizer", Email: "olga@example.org", Role: model.RoleOrganizer},
		{ID: "google_ana", Name: "Ana Alvarez", Email: "ana@example.org", Role: model.RoleApproved},
		{ID: "google_bea", Name: "Bea Blanco", Email: "bea@example.org", Role: model.RoleApproved},
		{ID: "google_pat", Name: "Pat Pending", Email: "pat@example.org", Role: model.RolePending},
		{ID: "google_neo", Name: "Neo Newcomer", Email: "neo@example.org", Role: model.RoleNew},
	} {
		require.NoError(t, stores.Users.CreateUser(ctx, u))
	}
	_, err = stores.Events.CreateEvent(ctx, &model.Event{
		ID: 1, Title: "Picnic", Barrio: "Gracia", TimePeriod: "afternoon",
		Date:        time.Now().AddDate(0, 0, 7),
		OrganizerID: "google_org", MaxAttendees: 1, IsActive: true,
	})
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("a-long-enough-test-secret", "cosy", time.Hour)
	require.NoError(t, err)
	hub := live.NewHub()
	t.Cleanup(func() { hub.Close() })
	svc := attendance.NewService(stores.Events, stores.Users, stores.RSVPs, attendance.WithPublisher(hub))

	cfg := Config{
		ServiceName:   "test",
		AdminUser:     "admin",
		AdminPassword: "secret",
		Questions:     []string{"Why do you want to join?"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reviews := &reviewRecorder{}
	srv, err := NewServer(cfg, stores, issuer, hub, svc, reviews)
	require.NoError(t, err)
	return &testSite{srv: srv, issuer: issuer, stores: stores, reviews: reviews}
}

func (s *testSite) do(t *testing.T, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		token, err := s.issuer.Issue(userID, "google")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)
	return rec
}

func rsvpRequest(eventID, status string) *http.Request {
	form := url.Values{"status": {status}}
	req := httptest.NewRequest(http.MethodPost, "/events/"+eventID+"/rsvp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req
}

func jsonRequest(method, target string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRSVP(t *testing.T) {
	site := newTestSite(t, nil)

	testCases := []struct {
		name    string
		user    string
		event   string
		status  string
		code    int
		message string
	}{
		{"anonymous", "", "1", "yes", http.StatusUnauthorized, "Please log in to continue."},
		{"pending member", "google_pat", "1", "yes", http.StatusForbidden, "Community approval required to access this feature."},
		{"host", "google_org", "1", "yes", http.StatusForbidden, "Hosts and co-hosts cannot RSVP to their own events."},
		{"unknown event", "google_ana", "404", "yes", http.StatusNotFound, "Event not found."},
		{"bad status", "google_ana", "1", "sometimes", http.StatusBadRequest, "Invalid attendance status."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := site.do(t, rsvpRequest(tc.event, tc.status), tc.user)
			assert.Equal(t, tc.code, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.message, body["message"])
		})
	}

	t.Run("confirm, waitlist and promote", func(t *testing.T) {
		rec := site.do(t, rsvpRequest("1", "yes"), "google_ana")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res model.RSVPResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, model.StatusYes, res.Status)
		assert.Equal(t, "Attendance confirmed: Going", res.Message)
		require.NotNil(t, res.Counts)
		assert.Equal(t, 1, res.Counts.Yes)

		rec = site.do(t, rsvpRequest("1", "yes"), "google_bea")
		require.Equal(t, http.StatusOK, rec.Code)
		res = model.RSVPResult{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, model.StatusWaitlist, res.Status)
		assert.Equal(t, "Event is full. You have been added to the waitlist.", res.Message)

		rec = site.do(t, rsvpRequest("1", "no"), "google_ana")
		require.Equal(t, http.StatusOK, rec.Code)
		res = model.RSVPResult{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, model.StatusNo, res.Status)
		assert.Equal(t, "Bea Blanco", res.PromotedUser)
		assert.Equal(t, "Attendance confirmed: Not Going. Bea Blanco has been moved from waitlist to attending.", res.Message)
	})

	t.Run("control fragment reflects the stored status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/events/1/control?class=btn-sm", nil)
		rec := site.do(t, req, "google_bea")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), `data-status="yes"`)
		assert.Contains(t, rec.Body.String(), "btn-sm")
	})
}

func TestEventVisibility(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()
	event, err := site.stores.Events.GetEventByID(ctx, 1)
	require.NoError(t, err)
	event.MapsLink = "https://maps.google.com/?q=gracia"
	event.LocationNotes = "by the fountain"
	require.NoError(t, site.stores.Events.UpdateEvent(ctx, event))

	rec := site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "by the fountain")
	assert.NotContains(t, rec.Body.String(), `"attendance"`)

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "google_ana")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "by the fountain")
	assert.Contains(t, rec.Body.String(), `"attendance"`)

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateEvent(t *testing.T) {
	site := newTestSite(t, nil)
	post := func(form url.Values, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return site.do(t, req, user)
	}
	valid := url.Values{
		"title":            {"Board games"},
		"barrio":           {"Sants"},
		"time_period":      {"Evening"},
		"date":             {"2030-01-10"},
		"google_maps_link": {"https://maps.google.com/?q=sants"},
		"max_attendees":    {"8"},
	}

	rec := post(valid, "google_ana")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Organizer access required.", decode(t, rec)["message"])

	noMaps := url.Values{}
	for k, v := range valid {
		noMaps[k] = v
	}
	noMaps.Set("google_maps_link", "https://example.org/map")
	rec = post(noMaps, "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please provide a valid Google Maps link.", decode(t, rec)["message"])

	withCohost := url.Values{}
	for k, v := range valid {
		withCohost[k] = v
	}
	withCohost.Set("co_host_id", "google_ana")
	rec = post(withCohost, "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Co-host must be an organizer.", decode(t, rec)["message"])

	rec = post(valid, "google_org")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	id := uint64(body["id"].(float64))
	event, err := site.stores.Events.GetEventByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "evening", event.TimePeriod)
	assert.Equal(t, 8, event.MaxAttendees)
	assert.Equal(t, "google_org", event.OrganizerID)
	assert.True(t, event.IsActive)
}

func TestUserSearch(t *testing.T) {
	site := newTestSite(t, nil)
	search := func(path, user string) []model.UserSummary {
		rec := site.do(t, httptest.NewRequest(http.MethodGet, path, nil), user)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []model.UserSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Empty(t, search("/api/users/search?q=a", "google_ana"))

	all := search("/api/users/search?q=EXAMPLE.org", "google_ana")
	ids := make([]string, 0, len(all))
	for _, u := range all {
		ids = append(ids, u.ID)
	}
	assert.NotContains(t, ids, "google_neo")
	assert.Contains(t, ids, "google_pat")

	approved := search("/api/users/search/approved?q=example&limit=2", "google_ana")
	assert.Len(t, approved, 2)
	for _, u := range approved {
		assert.NotEqual(t, model.RolePending, u.Role)
	}

	rec := site.do(t, httptest.NewRequest(http.MethodGet, "/api/users/search/approved?q=ana", nil), "google_pat")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/users/search?q=ana", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApplicationFlow(t *testing.T) {
	site := newTestSite(t, nil)
	answers := map[string]any{
		"answers": map[string]any{
			"question_1": "I like picnics",
			"question_2": map[string]any{"languages": []any{"es", "en"}},
		},
	}

	rec := site.do(t, jsonRequest(http.MethodPost, "/applications", answers), "google_ana")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = site.do(t, jsonRequest(http.MethodPost, "/applications", map[string]any{"answers": map[string]any{}}), "google_neo")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = site.do(t, jsonRequest(http.MethodPost, "/applications", answers), "google_neo")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appID := uint64(decode(t, rec)["id"].(float64))

	rec = site.do(t, jsonRequest(http.MethodPost, "/applications", answers), "google_neo")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Your application is already under review.", decode(t, rec)["message"])

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/user/google_neo/application", nil), "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode(t, rec)["application"].(map[string]any)
	assert.Equal(t, "Neo Newcomer", detail["user_name"])
	flat := detail["answers"].(map[string]any)
	assert.Equal(t, "es", flat["question_2.languages.0"])
	assert.Equal(t, "I like picnics", flat["question_1"])

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/user/google_pat/application", nil), "google_org")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No application found for this user", decode(t, rec)["message"])

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/users/pending", nil), "google_org")
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode(t, rec)["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "google_neo", users[0].(map[string]any)["id"])
	assert.Equal(t, true, users[0].(map[string]any)["has_application"])

	review := "/api/admin/application/" + jsonNumber(appID) + "/review"
	rec = site.do(t, jsonRequest(http.MethodPost, review, map[string]string{"action": "maybe"}), "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid action", decode(t, rec)["message"])

	rec = site.do(t, jsonRequest(http.MethodPost, review, map[string]string{"action": "accept", "notes": "welcome"}), "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"google_neo:approved"}, site.reviews.reviewed)

	u, err := site.stores.Users.GetUserByID(context.Background(), "google_neo")
	require.NoError(t, err)
	assert.Equal(t, model.RoleApproved, u.Role)
}

func jsonNumber(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestChangeRole(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()
	changeRole := func(userID, role, actor string) *httptest.ResponseRecorder {
		return site.do(t, jsonRequest(http.MethodPost, "/api/admin/change-role",
			map[string]string{"user_id": userID, "role": role}), actor)
	}

	t.Run("organizers cannot change roles", func(t *testing.T) {
		for _, tc := range []struct{ user, role string }{
			{"google_admin", "approved"},
			{"google_ana", "admin"},
			{"google_ana", "organizer"},
		} {
			rec := changeRole(tc.user, tc.role, "google_org")
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Admin access required.", decode(t, rec)["message"])
		}
		admin, err := site.stores.Users.GetUserByID(ctx, "google_admin")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, admin.Role)
		assert.Empty(t, site.reviews.roles)
	})

	rec := changeRole("google_ana", "superuser", "google_admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = changeRole("google_ana", "organizer", "google_admin")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "User role changed to organizer", body["message"])
	assert.Equal(t, "organizer", body["new_role"])
	assert.Equal(t, "google_ana", body["user_id"])
	assert.Equal(t, []string{"google_ana:approved->organizer"}, site.reviews.roles)

	t.Run("reset to new drops applications", func(t *testing.T) {
		_, err := site.stores.Applications.CreateApplication(ctx, &model.Application{
			UserID: "google_bea", Status: model.ApplicationApproved, SubmittedAt: time.Now(),
		})
		require.NoError(t, err)

		rec := changeRole("google_bea", "new", "google_admin")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		_, err = site.stores.Applications.LatestApplicationByUser(ctx, "google_bea")
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.Contains(t, site.reviews.roles, "google_bea:approved->new")

		bea, err := site.stores.Users.GetUserByID(ctx, "google_bea")
		require.NoError(t, err)
		assert.Equal(t, model.RoleNew, bea.Role)
	})

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/users/wizard", nil), "google_admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid role", decode(t, rec)["message"])
}

func TestUsersByRole_Pagination(t *testing.T) {
	site := newTestSite(t, nil)

	for _, query := range []string{
		"?page=184467440737095518",
		"?page=9223372036854775807&per_page=9223372036854775807",
		"?page=2",
	} {
		rec := site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/users/approved"+query, nil), "google_org")
		require.Equal(t, http.StatusOK, rec.Code, query)
		body := decode(t, rec)
		assert.Empty(t, body["users"], query)
		assert.Equal(t, float64(2), body["pagination"].(map[string]any)["total"], query)
	}

	rec := site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/users/approved?per_page=100000", nil), "google_org")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["users"], 2)
	assert.Equal(t, float64(200), body["pagination"].(map[string]any)["per_page"])
}

func TestDeleteUser(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()
	deleteUser := func(userID, actor string) *httptest.ResponseRecorder {
		return site.do(t, jsonRequest(http.MethodPost, "/api/admin/delete-user",
			map[string]string{"user_id": userID}), actor)
	}

	rec := deleteUser("google_ana", "google_org")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = deleteUser("google_admin", "google_admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot delete your own account", decode(t, rec)["message"])

	require.NoError(t, site.stores.Users.CreateUser(ctx, &model.User{ID: "google_root", Name: "Root", Role: model.RoleAdmin}))
	rec = deleteUser("google_root", "google_admin")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin users cannot be deleted", decode(t, rec)["message"])

	rec = deleteUser("google_nobody", "google_admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = deleteUser("google_org", "google_admin")
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	hosted := body["hosted_events"].([]any)
	require.Len(t, hosted, 1)
	assert.Equal(t, "Picnic", hosted[0].(map[string]any)["title"])
	assert.Equal(t, "Organizer", hosted[0].(map[string]any)["role"])

	// Ana holds the only seat, Bea waits for it.
	require.Equal(t, http.StatusOK, site.do(t, rsvpRequest("1", "yes"), "google_ana").Code)
	require.Equal(t, http.StatusOK, site.do(t, rsvpRequest("1", "yes"), "google_bea").Code)
	_, err := site.stores.Applications.CreateApplication(ctx, &model.Application{
		UserID: "google_ana", Status: model.ApplicationApproved, SubmittedAt: time.Now(),
	})
	require.NoError(t, err)

	rec = deleteUser("google_ana", "google_admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "User Ana Alvarez deleted successfully", decode(t, rec)["message"])

	_, err = site.stores.Users.GetUserByID(ctx, "google_ana")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = site.stores.Applications.LatestApplicationByUser(ctx, "google_ana")
	assert.ErrorIs(t, err, model.ErrNotFound)
	roster, err := site.stores.RSVPs.GetRoster(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, roster.Find("google_ana"))
	require.NotNil(t, roster.Find("google_bea"))
	assert.Equal(t, model.StatusYes, roster.Find("google_bea").Status)
}

func TestAdminArea(t *testing.T) {
	site := newTestSite(t, nil)

	rec := site.do(t, httptest.NewRequest(http.MethodGet, "/admin/", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	req.SetBasicAuth("admin", "secret")
	rec = site.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["active_events"])

	form := url.Values{"user_id": {"google_ana"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "secret")
	rec = site.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["token"].(string)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rec = site.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "google_ana", body["id"])
	assert.Equal(t, "Member", body["role"])

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = site.do(t, req, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminArea_DisabledWithoutPassword(t *testing.T) {
	site := newTestSite(t, func(cfg *Config) { cfg.AdminPassword = "" })

	for _, user := range []string{"", "admin"} {
		req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
		req.SetBasicAuth(user, "")
		rec := site.do(t, req, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	form := url.Values{"user_id": {"google_admin"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "admin")
	rec := site.do(t, req, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestReadOnly(t *testing.T) {
	site := newTestSite(t, func(cfg *Config) {
		cfg.ReadOnlyAfter = time.Now().Add(-time.Hour)
	})

	rec := site.do(t, rsvpRequest("1", "yes"), "google_ana")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Changes are closed for now.", decode(t, rec)["message"])

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "google_ana")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedWrites(t *testing.T) {
	site := newTestSite(t, func(cfg *Config) {
		cfg.RateLimit = 2
		cfg.RateWindow = time.Minute
	})

	for i := 0; i < 2; i++ {
		rec := site.do(t, rsvpRequest("1", "maybe"), "google_ana")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := site.do(t, rsvpRequest("1", "maybe"), "google_ana")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Greater(t, decode(t, rec)["retry_after"], float64(0))

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "google_ana")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticRoutes(t *testing.T) {
	site := newTestSite(t, nil)

	rec := site.do(t, httptest.NewRequest(http.MethodGet, "/robots.txt", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /api/")

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/does/not/exist", nil), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PAGE_NOT_FOUND", decode(t, rec)["code"])
}

func editEvent(t *testing.T, site *testSite, id string, form url.Values, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events/"+id+"/edit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return site.do(t, req, user)
}

func TestUpdateEvent(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()
	maps := "https://maps.google.com/?q=gracia"

	rec := editEvent(t, site, "1", url.Values{
		"google_maps_link": {maps},
		"exact_time":       {"2030-01-10T18:00"},
		"end_time":         {"2030-01-10T17:00"},
	}, "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The end time must be after the start time.", decode(t, rec)["message"])

	rec = editEvent(t, site, "1", url.Values{
		"google_maps_link":  {maps},
		"exact_time":        {"2030-01-10T18:00"},
		"end_time":          {"2030-01-10T21:30"},
		"requires_approval": {"on"},
	}, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	event, err := site.stores.Events.GetEventByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, event.EndTime)
	assert.Equal(t, 21, event.EndTime.Hour())
	assert.Equal(t, 30, event.EndTime.Minute())
	assert.True(t, event.RequiresApproval)

	// An unchecked box is not posted at all.
	rec = editEvent(t, site, "1", url.Values{"google_maps_link": {maps}, "end_time": {""}}, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	event, err = site.stores.Events.GetEventByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, event.RequiresApproval)
	assert.Nil(t, event.EndTime)
	assert.Equal(t, "Picnic", event.Title)

	rec = editEvent(t, site, "1", url.Values{"google_maps_link": {maps}}, "google_ana")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRSVP_Notes(t *testing.T) {
	site := newTestSite(t, nil)
	post := func(notes string) *httptest.ResponseRecorder {
		form := url.Values{"status": {"maybe"}, "notes": {notes}}
		req := httptest.NewRequest(http.MethodPost, "/events/1/rsvp", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return site.do(t, req, "google_ana")
	}

	rec := post("  might bring a friend  ")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	roster, err := site.stores.RSVPs.GetRoster(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, roster.Find("google_ana"))
	assert.Equal(t, "might bring a friend", roster.Find("google_ana").Notes)

	rec = post(strings.Repeat("x", 501))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Notes can be at most 500 characters.", decode(t, rec)["message"])
}

func TestManageAttendance(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()
	manage := func(body, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events/1/manage_attendance", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return site.do(t, req, user)
	}

	testCases := []struct {
		name    string
		body    string
		user    string
		code    int
		message string
	}{
		{"anonymous", `{"attendance_yes":["google_ana"]}`, "", http.StatusUnauthorized, "Please log in to continue."},
		{"malformed entry", `{"attendance_yes":[[]]}`, "google_org", http.StatusBadRequest, "Invalid attendance data."},
		{"nothing to do", `{}`, "google_org", http.StatusBadRequest, "No attendance changes given."},
		{"member edits others", `{"attendance_yes":["google_bea"]}`, "google_ana", http.StatusForbidden, "You can only manage your own attendance."},
		{"host listed", `{"attendance_yes":["google_org"]}`, "google_admin", http.StatusBadRequest, "Hosts and co-hosts cannot RSVP to their own events."},
		{"unknown user", `{"attendance_no":["google_ghost"]}`, "google_org", http.StatusBadRequest, "User google_ghost not found."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := manage(tc.body, tc.user)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.message, decode(t, rec)["message"])
		})
	}

	rec := manage(`{"attendance_yes":[["google_ana", false]],"attendance_maybe":["google_bea"]}`, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Attendance updated successfully", body["message"])
	assert.Equal(t, float64(1), body["current_attending"])
	assert.Equal(t, float64(2), body["updated_count"])

	rec = manage(`{"attendance_yes":["google_bea"]}`, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	roster, err := site.stores.RSVPs.GetRoster(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitlist, roster.Find("google_bea").Status)

	rec = manage(`{"remove_attendance":["google_ana"]}`, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, float64(1), body["removed_count"])
	assert.Equal(t, float64(1), body["promoted_count"])
	roster, err = site.stores.RSVPs.GetRoster(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, roster.Find("google_ana"))
	assert.Equal(t, model.StatusYes, roster.Find("google_bea").Status)

	rec = manage(`{"attendance_no":["google_bea"]}`, "google_bea")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(0), decode(t, rec)["current_attending"])
}

func TestEventNotes(t *testing.T) {
	site := newTestSite(t, nil)
	maps := "https://maps.google.com/?q=gracia"
	create := func(body map[string]string, user string) *httptest.ResponseRecorder {
		return site.do(t, jsonRequest(http.MethodPost, "/api/admin/event-notes", body), user)
	}

	rec := create(map[string]string{"name": "House rules", "note": "Be kind."}, "google_org")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = create(map[string]string{"name": "House rules"}, "google_admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = create(map[string]string{"name": " House rules ", "note": "Be kind."}, "google_admin")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode(t, rec)["note"].(map[string]any)
	assert.Equal(t, "House rules", note["name"])
	id := jsonNumber(uint64(note["id"].(float64)))

	rec = create(map[string]string{"name": "house RULES", "note": "Again."}, "google_admin")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/event-notes", nil), "google_org")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["notes"], 1)

	rec = editEvent(t, site, "1", url.Values{"google_maps_link": {maps}, "event_note_id": {"999"}}, "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Event note not found.", decode(t, rec)["message"])

	rec = editEvent(t, site, "1", url.Values{"google_maps_link": {maps}, "event_note_id": {id}}, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "google_ana")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Be kind.", decode(t, rec)["event_note"].(map[string]any)["note"])
	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/1", nil), "")
	assert.NotContains(t, rec.Body.String(), "Be kind.")

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/event-note/"+id+"/usage", nil), "google_admin")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode(t, rec)
	assert.Equal(t, "House rules", usage["note_name"])
	assert.Equal(t, false, usage["can_delete"])
	require.Len(t, usage["events_using_note"], 1)
	assert.Equal(t, "Picnic", usage["events_using_note"].([]any)[0].(map[string]any)["title"])

	rec = site.do(t, httptest.NewRequest(http.MethodDelete, "/api/admin/event-note/"+id, nil), "google_admin")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = editEvent(t, site, "1", url.Values{"google_maps_link": {maps}, "event_note_id": {""}}, "google_org")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = site.do(t, httptest.NewRequest(http.MethodDelete, "/api/admin/event-note/"+id, nil), "google_admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/event-note/"+id+"/usage", nil), "google_admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Event note not found", decode(t, rec)["message"])
}

func TestNoShows(t *testing.T) {
	site := newTestSite(t, nil)
	ctx := context.Background()

	started := time.Now().Add(-3 * time.Hour)
	pastID, err := site.stores.Events.CreateEvent(ctx, &model.Event{
		Title: "Brunch", Barrio: "Sants", TimePeriod: "morning",
		Date: started, ExactTime: started, OrganizerID: "google_org", IsActive: true,
	})
	require.NoError(t, err)
	require.NoError(t, site.stores.RSVPs.UpdateRoster(ctx, pastID, func(r *model.Roster) error {
		r.Add(&model.RSVP{UserID: "google_ana", Status: model.StatusYes, CreatedAt: started})
		r.Add(&model.RSVP{UserID: "google_bea", Status: model.StatusMaybe, CreatedAt: started})
		return nil
	}))
	past := jsonNumber(pastID)
	mark := func(event, user, actor string) *httptest.ResponseRecorder {
		form := url.Values{"notes": {"did not reply to messages"}}
		req := httptest.NewRequest(http.MethodPost, "/events/"+event+"/no-shows/"+user, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return site.do(t, req, actor)
	}

	rec := mark(past, "google_ana", "google_bea")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = mark("1", "google_ana", "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No-shows can only be recorded once the event has started.", decode(t, rec)["message"])

	rec = mark(past, "google_bea", "google_org")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only attendees can be marked as no-show.", decode(t, rec)["message"])

	rec = mark(past, "google_ana", "google_org")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = mark(past, "google_ana", "google_admin")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = site.do(t, httptest.NewRequest(http.MethodGet, "/events/"+past+"/no-shows", nil), "google_org")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	list := body["no_shows"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "google_org", list[0].(map[string]any)["marked_by"])
	assert.Equal(t, "did not reply to messages", list[0].(map[string]any)["notes"])
	assert.Equal(t, float64(1), body["counts"].(map[string]any)["google_ana"])

	req := httptest.NewRequest(http.MethodDelete, "/events/"+past+"/no-shows/google_ana", nil)
	rec = site.do(t, req, "google_org")
	require.Equal(t, http.StatusOK, rec.Code)
	req = httptest.NewRequest(http.MethodDelete, "/events/"+past+"/no-shows/google_ana", nil)
	rec = site.do(t, req, "google_org")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
