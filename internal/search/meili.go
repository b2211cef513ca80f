package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxGroups    = "quorum_groups"
	idxProposals = "quorum_proposals"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns nil if the initial connection fails (caller should proceed without it).
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxGroups,
			primaryKey: "id",
			filterable: []string{"id", "preset", "isPublic"},
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxProposals,
			primaryKey: "id",
			filterable: []string{"groupId", "proposalType", "status", "isPublic"},
			searchable: []string{"title", "description"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxGroups, ResultGroup},
		{idxProposals, ResultProposal},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		if q.FilterGroupID != "" && ti.rtyp == ResultProposal {
			filters = append(filters, fmt.Sprintf("groupId = %q", q.FilterGroupID))
		}
		groupIDField := "groupId"
		if ti.rtyp == ResultGroup {
			groupIDField = "id"
		}
		filters = append(filters, visibilityFilter(groupIDField, q.MemberGroupIDs))
		sr.Filter = filters
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

// visibilityFilter builds the Meilisearch filter expression restricting hits
// to public entities plus the caller's groups.
func visibilityFilter(groupIDField string, memberGroupIDs []string) string {
	if len(memberGroupIDs) == 0 {
		return "isPublic = true"
	}
	quoted := make([]string, len(memberGroupIDs))
	for i, id := range memberGroupIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf("isPublic = true OR %s IN [%s]", groupIDField, strings.Join(quoted, ", "))
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxGroups:
		return ResultGroup
	case idxProposals:
		return ResultProposal
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.GroupID = decodeString(hit, "groupId")
	r.Status = decodeString(hit, "status")
	r.IsPublic = decodeBool(hit, "isPublic")

	switch rtyp {
	case ResultGroup:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.GroupID = r.ID // group's own ID
	case ResultProposal:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexGroup adds or updates a group in the search index.
func (m *Meili) IndexGroup(g GroupRecord) error {
	_, err := m.client.Index(idxGroups).AddDocuments([]GroupRecord{g}, nil)
	return err
}

// IndexProposal adds or updates a proposal in the search index.
func (m *Meili) IndexProposal(p ProposalRecord) error {
	_, err := m.client.Index(idxProposals).AddDocuments([]ProposalRecord{p}, nil)
	return err
}

// DeleteGroup removes a group from the search index.
func (m *Meili) DeleteGroup(id string) error {
	_, err := m.client.Index(idxGroups).DeleteDocument(id, nil)
	return err
}

// DeleteProposal removes a proposal from the search index.
func (m *Meili) DeleteProposal(id string) error {
	_, err := m.client.Index(idxProposals).DeleteDocument(id, nil)
	return err
}

// IndexGroups bulk-indexes groups.
func (m *Meili) IndexGroups(groups []GroupRecord) error {
	if len(groups) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGroups).AddDocuments(groups, nil)
	return err
}

// IndexProposals bulk-indexes proposals.
func (m *Meili) IndexProposals(proposals []ProposalRecord) error {
	if len(proposals) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProposals).AddDocuments(proposals, nil)
	return err
}
