package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Both backends restrict the query to the caller's visibility scope; the
// results are filtered once more here in case the index is stale.
func (s *Service) Search(q Query) Response {
	members := memberSet(q.MemberGroupIDs)
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: visibleResults(nonNil(results), members), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: visibleResults(nonNil(results), members), Total: total, Query: q.Text}
}

// IndexGroup indexes a group (fire-and-forget to Meilisearch).
func (s *Service) IndexGroup(g GroupRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGroup(g); err != nil {
			log.Printf("search: index group %s: %v", g.ID, err)
		}
	}()
}

// IndexProposal indexes a proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexProposal(p ProposalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProposal(p); err != nil {
			log.Printf("search: index proposal %s: %v", p.ID, err)
		}
	}()
}

// DeleteGroup removes a group from the search index (fire-and-forget).
func (s *Service) DeleteGroup(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGroup(id); err != nil {
			log.Printf("search: delete group %s: %v", id, err)
		}
	}()
}

// DeleteProposal removes a proposal from the search index (fire-and-forget).
func (s *Service) DeleteProposal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProposal(id); err != nil {
			log.Printf("search: delete proposal %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(groups []GroupRecord, proposals []ProposalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(groups) > 0 {
		if err := s.meili.IndexGroups(groups); err != nil {
			log.Printf("search: reindex groups: %v", err)
		}
	}
	if len(proposals) > 0 {
		if err := s.meili.IndexProposals(proposals); err != nil {
			log.Printf("search: reindex proposals: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	groups, proposals, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(groups, proposals)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func memberSet(groupIDs []string) map[string]bool {
	if len(groupIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		set[id] = true
	}
	return set
}

// visibleResults keeps public hits and hits from the caller's own groups.
func visibleResults(results []Result, members map[string]bool) []Result {
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if !result.IsPublic && !members[result.GroupID] {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
