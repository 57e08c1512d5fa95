package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/fundscout/fundscout/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore provides graph operations on top of the generic Neo4j repository.
type GraphStore struct {
	driver     neo4j.DriverWithContext
	programmes *repo.Neo4jRepo[Programme, string]
}

// New creates a new GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver:     driver,
		programmes: newProgrammeRepo(driver),
	}
}

// GetProgramme returns a programme by tag.
func (g *GraphStore) GetProgramme(ctx context.Context, tag string) (Programme, error) {
	return g.programmes.Get(ctx, tag)
}

// SaveProgramme creates or updates a programme node.
func (g *GraphStore) SaveProgramme(ctx context.Context, p Programme) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (n:Programme {tag: $tag}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"tag":   p.Tag,
		"props": programmeToMap(p),
	})
	return err
}

// SaveCall creates or updates a call node and attaches it to its programme.
func (g *GraphStore) SaveCall(ctx context.Context, c Call) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (c:Call {id: $id})
			   SET c.title = $title, c.deadline = $deadline, c.url = $url
			   WITH c
			   MATCH (p:Programme {tag: $programme})
			   MERGE (c)-[:UNDER]->(p)`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":        c.ID,
		"title":     c.Title,
		"deadline":  c.Deadline,
		"url":       c.URL,
		"programme": c.Programme,
	})
	return err
}

// SaveRelation creates or updates an edge between two programmes.
func (g *GraphStore) SaveRelation(ctx context.Context, r Relation) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:Programme {tag: $from}), (b:Programme {tag: $to})
		 MERGE (a)-[:%s]->(b)`,
		sanitizeRelType(r.Type),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from": r.From,
		"to":   r.To,
	})
	return err
}

// Neighbors returns programmes within the given traversal depth from a node.
func (g *GraphStore) Neighbors(ctx context.Context, tag string, depth int) ([]Programme, error) {
	if depth <= 0 {
		depth = 1
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (start:Programme {tag: $tag})-[*1..%d]-(n:Programme)
		 WHERE n.tag <> $tag
		 RETURN DISTINCT n`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"tag": tag})
	if err != nil {
		return nil, err
	}
	return collectProgrammes(ctx, result)
}

// RelatedProgrammes finds programmes whose name or focus mentions any of
// the given keywords, plus their direct graph neighbours.
func (g *GraphStore) RelatedProgrammes(ctx context.Context, keywords []string) ([]Programme, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n:Programme)
			   WHERE any(kw IN $keywords WHERE
				   toLower(n.name) CONTAINS kw OR toLower(n.focus) CONTAINS kw)
			   OPTIONAL MATCH (n)-[]-(m:Programme)
			   WITH collect(n) + collect(m) AS all
			   UNWIND all AS n
			   RETURN DISTINCT n`
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	result, err := sess.Run(ctx, cypher, map[string]any{"keywords": lowered})
	if err != nil {
		return nil, err
	}
	return collectProgrammes(ctx, result)
}

// OpenCalls returns the calls attached to a programme.
func (g *GraphStore) OpenCalls(ctx context.Context, tag string) ([]Call, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (c:Call)-[:UNDER]->(p:Programme {tag: $tag}) RETURN c`
	result, err := sess.Run(ctx, cypher, map[string]any{"tag": tag})
	if err != nil {
		return nil, err
	}

	var calls []Call
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "c")
		if err != nil {
			return nil, err
		}
		calls = append(calls, Call{
			ID:        strProp(node.Props, "id"),
			Title:     strProp(node.Props, "title"),
			Programme: tag,
			Deadline:  strProp(node.Props, "deadline"),
			URL:       strProp(node.Props, "url"),
		})
	}
	return calls, nil
}

// SaveBatch saves multiple programmes and relations in a single transaction.
func (g *GraphStore) SaveBatch(ctx context.Context, programmes []Programme, relations []Relation) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, p := range programmes {
			cypher := `MERGE (n:Programme {tag: $tag}) SET n += $props`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"tag":   p.Tag,
				"props": programmeToMap(p),
			}); err != nil {
				return nil, err
			}
		}
		for _, r := range relations {
			cypher := fmt.Sprintf(
				`MATCH (a:Programme {tag: $from}), (b:Programme {tag: $to})
				 MERGE (a)-[:%s]->(b)`,
				sanitizeRelType(r.Type),
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"from": r.From,
				"to":   r.To,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// FormatProgrammes renders programmes as a context block for prompts.
func FormatProgrammes(programmes []Programme) string {
	if len(programmes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Related funding programmes:\n")
	for _, p := range programmes {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Name, p.Tag, p.Focus)
	}
	return b.String()
}

// collectProgrammes reads all Programme nodes from a result set.
func collectProgrammes(ctx context.Context, result neo4j.ResultWithContext) ([]Programme, error) {
	var items []Programme
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		items = append(items, programmeFromProps(node.Props))
	}
	return items, nil
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
