package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/locshare-core/internal/geo"
)

type recorded struct {
	method string
	path   string
	query  string
	limit  string
	auth   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.Query().Get("query")
		rec.limit = r.URL.Query().Get("limit")
		rec.auth = r.Header.Get("Authorization")
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestSetPresence(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{}`)
	c := New(Config{BaseURL: srv.URL + "/", Token: "tok"})

	if err := c.SetPresence(context.Background(), "user-1", true); err != nil {
		t.Fatalf("SetPresence() error = %v", err)
	}
	if rec.method != http.MethodPut || rec.path != "/profile/user-1" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if rec.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", rec.auth)
	}
	if len(rec.body) != 1 || rec.body["isOnline"] != true {
		t.Errorf("body = %v, want only isOnline=true", rec.body)
	}
}

func TestUpdateLocation(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusNoContent, ``)
	c := New(Config{BaseURL: srv.URL})
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	err := c.UpdateLocation(context.Background(), "user-1", geo.Coordinate{Latitude: 52.5, Longitude: 13.4, CapturedAt: at})
	if err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}

	loc, ok := rec.body["location"].(map[string]any)
	if !ok || loc["lat"] != 52.5 || loc["lon"] != 13.4 {
		t.Errorf("location = %v", rec.body["location"])
	}
	if rec.body["locationUpdatedAt"] != "2026-03-01T09:30:00Z" {
		t.Errorf("locationUpdatedAt = %v", rec.body["locationUpdatedAt"])
	}
}

func TestNearbyProfiles_Query(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `[
		{"id":"a","displayName":"Ann","location":{"lat":52.5,"lon":13.4}},
		{"id":"b","displayName":"Bob"}
	]`)
	c := New(Config{BaseURL: srv.URL})

	profiles, err := c.NearbyProfiles(context.Background(), NearbyQuery{
		Origin:      geo.Coordinate{Latitude: 52.52, Longitude: 13.405},
		MaxDistance: geo.AngularRadius(20),
		ExcludeID:   "me",
	})
	if err != nil {
		t.Fatalf("NearbyProfiles() error = %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}
	if rec.limit != "100" {
		t.Errorf("limit = %q, want 100", rec.limit)
	}

	var q struct {
		IsOnline bool `json:"isOnline"`
		Location struct {
			NearSphere  []float64 `json:"$nearSphere"`
			MaxDistance float64   `json:"$maxDistance"`
		} `json:"location"`
		ID struct {
			Ne string `json:"$ne"`
		} `json:"id"`
	}
	if err := json.Unmarshal([]byte(rec.query), &q); err != nil {
		t.Fatalf("query not JSON: %v (%s)", err, rec.query)
	}
	if !q.IsOnline {
		t.Error("isOnline not set")
	}
	if len(q.Location.NearSphere) != 2 || q.Location.NearSphere[0] != 13.405 || q.Location.NearSphere[1] != 52.52 {
		t.Errorf("$nearSphere = %v, want [lon lat]", q.Location.NearSphere)
	}
	if q.Location.MaxDistance != 20.0/6371000.0 {
		t.Errorf("$maxDistance = %v, want %v", q.Location.MaxDistance, 20.0/6371000.0)
	}
	if q.ID.Ne != "me" {
		t.Errorf("id.$ne = %q, want me", q.ID.Ne)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusNotFound, ErrRejected},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, `{"error":"x"}`)
			c := New(Config{BaseURL: srv.URL})

			err := c.SetPresence(context.Background(), "u", false)
			if !errors.Is(err, tt.want) {
				t.Errorf("SetPresence() error = %v, want %v", err, tt.want)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Status != tt.status {
				t.Errorf("StatusError = %+v, want status %d", se, tt.status)
			}
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	srv.Close()
	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})

	if err := c.SetPresence(context.Background(), "u", true); !errors.Is(err, ErrTransient) {
		t.Errorf("SetPresence() error = %v, want ErrTransient", err)
	}
}

func TestMalformedResponseIsTransient(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `not json`)
	c := New(Config{BaseURL: srv.URL})

	if _, err := c.NearbyProfiles(context.Background(), NearbyQuery{}); !errors.Is(err, ErrTransient) {
		t.Errorf("NearbyProfiles() error = %v, want ErrTransient", err)
	}
}

func TestProfileCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		location string
		ok       bool
	}{
		{"numeric", `{"lat":52.5,"lon":13.4}`, true},
		{"missing", ``, false},
		{"null", `null`, false},
		{"string numbers", `{"lat":"52.5","lon":"13.4"}`, false},
		{"missing lon", `{"lat":52.5}`, false},
		{"out of range", `{"lat":91,"lon":0}`, false},
		{"array", `[13.4,52.5]`, false},
		{"null lat", `{"lat":null,"lon":1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Profile{ID: "x", Location: json.RawMessage(tt.location)}
			if _, ok := p.Coordinate(); ok != tt.ok {
				t.Errorf("Coordinate() ok = %v, want %v", ok, tt.ok)
			}
		})
	}
}

func TestParseSession(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	s, err := ParseSession(signed)
	if err != nil {
		t.Fatalf("ParseSession() error = %v", err)
	}
	if s.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", s.UserID)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if s.Expired(time.Now()) {
		t.Error("Expired() = true for future expiry")
	}
	if !s.Expired(exp.Add(time.Minute)) {
		t.Error("Expired() = false after expiry")
	}
}

func TestParseSession_Invalid(t *testing.T) {
	if _, err := ParseSession("not-a-jwt"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("ParseSession() error = %v, want ErrInvalidSession", err)
	}

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, _ := noSub.SignedString([]byte("k"))
	if _, err := ParseSession(signed); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("ParseSession(no sub) error = %v, want ErrInvalidSession", err)
	}
}
