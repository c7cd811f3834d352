package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/lookup"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// Account is the API view of one stored record.
type Account struct {
	ID          uint64                 `json:"id"`
	DisplayName string                 `json:"display_name"`
	Registered  string                 `json:"registered,omitempty"`
	Games       []crawler.GameAccounts `json:"games,omitempty"`
	Provisional bool                   `json:"provisional"`
	ProfileURL  string                 `json:"profile_url"`
}

// SearchResult is the body of a name search.
type SearchResult struct {
	Query    string    `json:"query"`
	Prefix   bool      `json:"prefix"`
	Total    int       `json:"total"`
	Accounts []Account `json:"accounts"`
}

type index struct {
	loadedAt  time.Time
	accounts  []Account
	byID      map[uint64]int
	lowerName []string
}

// index returns the cached view, reloading it once it is older than CacheTTL.
func (s *Server) index(ctx context.Context) (*index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.cached != nil && now.Sub(s.cached.loadedAt) < s.cfg.CacheTTL {
		return s.cached, nil
	}
	t, err := s.source.Load(ctx)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("reload failed; serving stale index", zap.Error(err))
			return s.cached, nil
		}
		return nil, fmt.Errorf("load roster: %w", err)
	}
	s.cached = s.buildIndex(t, now)
	return s.cached, nil
}

func (s *Server) buildIndex(t table.Table, loadedAt time.Time) *index {
	res := table.Compact(t)
	idx := &index{loadedAt: loadedAt, byID: make(map[uint64]int, len(res.Table.Rows))}
	for _, row := range res.Table.Rows {
		if _, ok := row.ID(); !ok {
			continue
		}
		rec, err := crawler.RecordFromRow(row)
		if err != nil {
			continue
		}
		idx.byID[rec.ID] = len(idx.accounts)
		idx.accounts = append(idx.accounts, s.account(rec))
		idx.lowerName = append(idx.lowerName, strings.ToLower(rec.DisplayName))
	}
	return idx
}

func (s *Server) account(rec crawler.Record) Account {
	return Account{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Registered:  rec.Registered,
		Games:       rec.Games,
		Provisional: crawler.IsProvisional(rec.DisplayName, s.cfg.PlaceholderPrefix),
		ProfileURL:  lookup.ProfileURL(s.cfg.URLTemplate, rec.ID),
	}
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := table.NormalizeID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a non-negative integer")
		return
	}
	idx, err := s.index(r.Context())
	if err != nil {
		s.logger.Error("load index failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	i, found := idx.byID[id]
	if !found {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, idx.accounts[i])
}

func (s *Server) searchAccounts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("name"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "name query is required")
		return
	}
	limit := DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxSearchLimit)
	}

	idx, err := s.index(r.Context())
	if err != nil {
		s.logger.Error("load index failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	matches := search(idx, q)
	res := SearchResult{
		Query:    q,
		Prefix:   strings.HasSuffix(q, "#"),
		Total:    len(matches),
		Accounts: matches[:min(limit, len(matches))],
	}
	writeJSON(w, http.StatusOK, res)
}

// search matches q against display names ignoring case. A trailing '#'
// turns the query into a prefix match on the remaining text. Results are
// ordered by name, then ID.
func search(idx *index, q string) []Account {
	needle := strings.ToLower(q)
	prefix := strings.HasSuffix(needle, "#")
	if prefix {
		needle = strings.TrimSuffix(needle, "#")
	}
	out := make([]Account, 0)
	for i, name := range idx.lowerName {
		var hit bool
		if prefix {
			hit = strings.HasPrefix(name, needle)
		} else {
			hit = strings.Contains(name, needle)
		}
		if hit {
			out = append(out, idx.accounts[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}
