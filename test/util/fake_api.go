package util

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// FakeTicosAPI serves the read endpoints of the Ticos project API from
// memory. Records are plain JSON objects so tests can shape them freely.
type FakeTicosAPI struct {
	*httptest.Server

	Organization string
	Project      string
	Token        string

	mu         sync.Mutex
	reboots    map[string][]map[string]any
	reports    []map[string]any
	coredumps  []map[string]any
	attributes map[string][]map[string]any
	failNext   int
	failStatus int
	requests   []*http.Request
}

func NewFakeTicosAPI(organization, project, token string) *FakeTicosAPI {
	f := &FakeTicosAPI{
		Organization: organization,
		Project:      project,
		Token:        token,
		reboots:      map[string][]map[string]any{},
		attributes:   map[string][]map[string]any{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(f.record)
	r.Route("/api/v0/organizations/{org}/projects/{project}", func(r chi.Router) {
		r.Use(f.authorize)
		r.Get("/devices/{device}/reboots", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeData(w, f.reboots[chi.URLParam(r, "device")])
		})
		r.Get("/devices/{device}/attributes", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeData(w, f.attributes[chi.URLParam(r, "device")])
		})
		r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeData(w, filterBy(f.reports, "device_serial", r.URL.Query().Get("device_serial")))
		})
		r.Get("/elf_coredumps", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeData(w, filterBy(f.coredumps, "device_serial", r.URL.Query().Get("device")))
		})
	})
	f.Server = httptest.NewServer(r)
	return f
}

func (f *FakeTicosAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(r.Context()))
		fail := f.failNext > 0
		if fail {
			f.failNext--
		}
		status := f.failStatus
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"error":"injected failure"}`, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeTicosAPI) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "" || pass != f.Token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if chi.URLParam(r, "org") != f.Organization || chi.URLParam(r, "project") != f.Project {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next n requests fail with status.
func (f *FakeTicosAPI) FailNext(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failStatus = status
}

func (f *FakeTicosAPI) AddRebootEvent(device string, reason int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reboots[device] = append(f.reboots[device], map[string]any{
		"reason":        reason,
		"device_serial": device,
	})
}

func (f *FakeTicosAPI) AddReport(device string, metrics map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, map[string]any{
		"device_serial": device,
		"type":          "heartbeat",
		"metrics":       metrics,
	})
}

func (f *FakeTicosAPI) AddElfCoredump(device string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coredumps = append(f.coredumps, map[string]any{
		"id":            len(f.coredumps) + 1,
		"device_serial": device,
		"device":        map[string]any{"device_serial": device},
	})
}

// SetAttribute records a value for key. A nil value leaves the attribute
// without state, as the backend reports keys it has not received yet.
func (f *FakeTicosAPI) SetAttribute(device, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var state any
	if value != nil {
		state = map[string]any{"value": value}
	}
	f.attributes[device] = append(f.attributes[device], map[string]any{
		"custom_metric": map[string]any{"string_key": key},
		"state":         state,
	})
}

// Requests returns the requests received so far.
func (f *FakeTicosAPI) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func filterBy(records []map[string]any, field, value string) []map[string]any {
	if value == "" {
		return records
	}
	var out []map[string]any
	for _, rec := range records {
		if rec[field] == value {
			out = append(out, rec)
		}
	}
	return out
}

func writeData(w http.ResponseWriter, data []map[string]any) {
	if data == nil {
		data = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}
