package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/proxy"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/status"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// newRouter builds the read-only status surface and the proxy admin
// surface. Collect and test-all are fire-and-forget background triggers;
// the pool serializes reentrant calls itself.
func newRouter(st *store.Store, pool *proxy.Pool, statusSvc *status.Service, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Status / KPI surface.
	r.Get("/api/status/today", func(w http.ResponseWriter, r *http.Request) {
		out, err := statusSvc.Today(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, out)
	})

	r.Get("/api/status/{date}", func(w http.ResponseWriter, r *http.Request) {
		out, err := statusSvc.ForDate(r.Context(), chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, out)
	})

	r.Get("/api/kpi/today", func(w http.ResponseWriter, r *http.Request) {
		kpi, err := statusSvc.KPIToday(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, kpi)
	})

	r.Get("/api/results/{date}", func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListResultsByDate(r.Context(), chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, out)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListRuns(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, out)
	})

	// Proxy administration surface.
	r.Route("/api/proxies", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			list, err := pool.List(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"proxies":   list,
				"blacklist": pool.BlacklistSize(),
			})
		})

		r.Post("/collect", func(w http.ResponseWriter, _ *http.Request) {
			// Detached from the request: collection outlives the trigger.
			go func() {
				if _, err := pool.Collect(context.Background()); err != nil {
					logger.Warn("admin: collect", "error", err)
				}
			}()
			writeJSON(w, 202, map[string]string{"status": "collecting"})
		})

		r.Post("/test", func(w http.ResponseWriter, _ *http.Request) {
			go func() {
				if _, err := pool.TestAll(context.Background()); err != nil {
					logger.Warn("admin: test all", "error", err)
				}
			}()
			writeJSON(w, 202, map[string]string{"status": "testing"})
		})

		r.Post("/bulk", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, 400, err)
				return
			}
			writeJSON(w, 200, pool.BulkAdd(r.Context(), string(body)))
		})

		r.Post("/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
			enabled, err := pool.Toggle(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"enabled": enabled})
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := pool.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "removed"})
		})

		r.Post("/purge-dead", func(w http.ResponseWriter, r *http.Request) {
			n, err := pool.RemoveAllDead(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]int64{"removed": n})
		})

		r.Post("/reset-stats", func(w http.ResponseWriter, r *http.Request) {
			if err := pool.ResetStats(r.Context()); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "reset"})
		})

		r.Post("/clear-blacklist", func(w http.ResponseWriter, _ *http.Request) {
			pool.ClearBlacklist()
			writeJSON(w, 200, map[string]string{"status": "cleared"})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
