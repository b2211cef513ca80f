package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across groups and proposals using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	// Visibility scope: public rows, plus the caller's own groups.
	visWhere := "g.is_public"
	if len(q.MemberGroupIDs) > 0 {
		placeholders := make([]string, len(q.MemberGroupIDs))
		for i, id := range q.MemberGroupIDs {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, id)
			argN++
		}
		visWhere = "(g.is_public OR g.id IN (" + strings.Join(placeholders, ", ") + "))"
	}

	var subQueries []string

	// Groups sub-query
	if q.FilterType == "" || q.FilterType == ResultGroup {
		groupWhere := "g.fts @@ " + tsQuery + " AND " + visWhere
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'group'::text AS type, g.id, g.name AS title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id AS group_id, ''::text AS status, g.is_public,
				ts_rank(g.fts, %s) AS rank
			FROM groups g
			WHERE %s`, tsQuery, tsQuery, groupWhere))
	}

	// Proposals sub-query
	if q.FilterType == "" || q.FilterType == ResultProposal {
		propWhere := "p.fts @@ " + tsQuery + " AND " + visWhere
		if q.FilterGroupID != "" {
			propWhere += fmt.Sprintf(" AND p.group_id = $%d", argN)
			args = append(args, q.FilterGroupID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.group_id, p.status, g.is_public,
				ts_rank(p.fts, %s) AS rank
			FROM proposals p
			JOIN groups g ON g.id = p.group_id
			WHERE %s`, tsQuery, tsQuery, propWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, group_id, status, is_public
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GroupID, &r.Status, &r.IsPublic); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GroupRecord, []ProposalRecord, error) {
	groupRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), governance_preset, is_public
		FROM groups
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load groups: %w", err)
	}
	defer groupRows.Close()

	groups := make([]GroupRecord, 0)
	for groupRows.Next() {
		var g GroupRecord
		if err := groupRows.Scan(&g.ID, &g.Name, &g.Description, &g.Preset, &g.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := groupRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate groups: %w", err)
	}

	proposalRows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, coalesce(p.description, ''), p.group_id, p.proposal_type, p.status, g.is_public
		FROM proposals p
		JOIN groups g ON g.id = p.group_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer proposalRows.Close()

	proposals := make([]ProposalRecord, 0)
	for proposalRows.Next() {
		var pr ProposalRecord
		if err := proposalRows.Scan(&pr.ID, &pr.Title, &pr.Description, &pr.GroupID, &pr.ProposalType, &pr.Status, &pr.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, pr)
	}
	if err := proposalRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposals: %w", err)
	}

	return groups, proposals, nil
}
