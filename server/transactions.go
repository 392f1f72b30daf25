package server

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/store"
)

// Listing bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// cacheKeyPrefix scopes cached listing bodies in the shared cache.
const cacheKeyPrefix = "tx:list:"

// listQuery is a validated listing request.
type listQuery struct {
	filter store.Filter
	sort   store.Sort
	page   store.Page
}

// parseListQuery validates the query parameters of a listing request.
// Unknown parameters are ignored; malformed or out-of-range values are
// rejected with a caller-facing description.
func parseListQuery(values url.Values) (listQuery, error) {
	var q = listQuery{
		sort: store.Sort{By: store.SortBySlot, Order: store.OrderDesc},
		page: store.Page{Limit: defaultListLimit},
	}

	q.filter.Signature = values.Get("signature")
	q.filter.From = values.Get("from")
	q.filter.To = values.Get("to")
	q.filter.ProgramID = values.Get("program_id")

	if raw := values.Get("limit"); raw != "" {
		var limit, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("limit must be an integer")
		}
		if limit < 1 || limit > maxListLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		q.page.Limit = limit
	}
	if raw := values.Get("offset"); raw != "" {
		var offset, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("offset must be an integer")
		}
		if offset < 0 {
			return q, fmt.Errorf("offset cannot be negative")
		}
		q.page.Offset = offset
	}

	if raw := values.Get("sort_by"); raw != "" {
		switch raw {
		case store.SortBySlot, store.SortBySignature, store.SortByBlockTime:
			q.sort.By = raw
		default:
			return q, fmt.Errorf("sort_by must be one of slot, signature, block_time")
		}
	}
	if raw := values.Get("order"); raw != "" {
		switch raw {
		case store.OrderAsc, store.OrderDesc:
			q.sort.Order = raw
		default:
			return q, fmt.Errorf("order must be asc or desc")
		}
	}

	for _, bound := range []struct {
		name string
		dst  **int64
	}{
		{"slot_from", &q.filter.SlotFrom},
		{"slot_to", &q.filter.SlotTo},
	} {
		var raw = values.Get(bound.name)
		if raw == "" {
			continue
		}
		var slot, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%s must be an integer", bound.name)
		}
		*bound.dst = &slot
	}
	if q.filter.SlotFrom != nil && q.filter.SlotTo != nil && *q.filter.SlotFrom > *q.filter.SlotTo {
		return q, fmt.Errorf("slot_from cannot exceed slot_to")
	}
	return q, nil
}

// canonicalQuery renders the validated query into a stable fingerprint
// input. Every recognized parameter appears, populated or not, so distinct
// queries never collide and equivalent spellings always do.
func canonicalQuery(q listQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "sig=%s|from=%s|to=%s|prog=%s",
		q.filter.Signature, q.filter.From, q.filter.To, q.filter.ProgramID)
	b.WriteString("|slot_from=")
	if q.filter.SlotFrom != nil {
		b.WriteString(strconv.FormatInt(*q.filter.SlotFrom, 10))
	}
	b.WriteString("|slot_to=")
	if q.filter.SlotTo != nil {
		b.WriteString(strconv.FormatInt(*q.filter.SlotTo, 10))
	}
	fmt.Fprintf(&b, "|sort=%s|order=%s|limit=%d|offset=%d",
		q.sort.By, q.sort.Order, q.page.Limit, q.page.Offset)
	return b.String()
}

// computeETag derives the weak validator of a listing: a SHA-1 over the
// canonical query and the matching rows' aggregate state, salted so that
// deployments can invalidate every tag at once.
func computeETag(canonical string, summary *store.Summary, salt string) string {
	var h = sha1.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s",
		canonical,
		summary.Total,
		summary.MaxSlot,
		summary.MaxCreatedAt.UTC().Format(time.RFC3339),
		salt,
	)
	return fmt.Sprintf(`W/"%x"`, h.Sum(nil))
}

type pageMeta struct {
	Limit  int64 `json:"limit"`
	Offset int64 `json:"offset"`
	Total  int64 `json:"total"`
}

type sortMeta struct {
	By    string `json:"by"`
	Order string `json:"order"`
}

type listResponse struct {
	Items []store.Transaction `json:"items"`
	Page  pageMeta            `json:"page"`
	Sort  sortMeta            `json:"sort"`
}

// listTransactions serves GET /api/transactions: a filtered, sorted,
// paginated listing with ETag revalidation and response caching.
func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "transaction store is not configured")
		return
	}
	var q, err = parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	var ctx = r.Context()
	summary, err := s.store.Summary(ctx, q.filter)
	if err != nil {
		log.WithFields(log.Fields{
			"err":       err,
			"requestID": RequestIDFromContext(ctx),
		}).Error("listing summary query failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "database query failed")
		return
	}

	var etag = computeETag(canonicalQuery(q), summary, s.cfg.Cache.ETagSalt)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		cacheEventsTotal.WithLabelValues("not_modified").Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	var cacheKey = cacheKeyPrefix + etag
	if body, ok := s.cache.Get(ctx, cacheKey); ok {
		cacheEventsTotal.WithLabelValues("hit").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	cacheEventsTotal.WithLabelValues("miss").Inc()

	items, err := s.store.List(ctx, q.filter, q.sort, q.page)
	if err != nil {
		log.WithFields(log.Fields{
			"err":       err,
			"requestID": RequestIDFromContext(ctx),
		}).Error("listing query failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "database query failed")
		return
	}
	if items == nil {
		items = []store.Transaction{}
	}

	body, err := json.Marshal(listResponse{
		Items: items,
		Page:  pageMeta{Limit: q.page.Limit, Offset: q.page.Offset, Total: summary.Total},
		Sort:  sortMeta{By: q.sort.By, Order: q.sort.Order},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "response encoding failed")
		return
	}
	s.cache.Set(ctx, cacheKey, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// getTransaction serves GET /api/transactions/{signature}.
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "transaction store is not configured")
		return
	}
	var signature = mux.Vars(r)["signature"]

	var tx, err = s.store.GetBySignature(r.Context(), signature)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found", "")
		return
	} else if err != nil {
		log.WithFields(log.Fields{
			"err":       err,
			"signature": signature,
			"requestID": RequestIDFromContext(r.Context()),
		}).Error("transaction lookup failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "database query failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
