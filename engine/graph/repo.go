package graph

import (
	"github.com/fundscout/fundscout/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// newProgrammeRepo creates a Neo4j-backed repository for Programme nodes.
func newProgrammeRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Programme, string] {
	return repo.NewNeo4jRepo[Programme, string](
		driver,
		"Programme",
		programmeToMap,
		programmeFromRecord,
		repo.WithIDKey[Programme, string]("tag"),
	)
}

func programmeToMap(p Programme) map[string]any {
	m := map[string]any{
		"tag":      p.Tag,
		"name":     p.Name,
		"operator": p.Operator,
		"focus":    p.Focus,
	}
	for k, v := range p.Properties {
		m["prop_"+k] = v
	}
	return m
}

func programmeFromRecord(rec *neo4j.Record) (Programme, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Programme{}, err
	}
	return programmeFromProps(node.Props), nil
}

// programmeFromProps constructs a Programme from Neo4j node properties.
func programmeFromProps(props map[string]any) Programme {
	p := Programme{
		Tag:        strProp(props, "tag"),
		Name:       strProp(props, "name"),
		Operator:   strProp(props, "operator"),
		Focus:      strProp(props, "focus"),
		Properties: make(map[string]string),
	}
	for k, v := range props {
		if len(k) > 5 && k[:5] == "prop_" {
			if s, ok := v.(string); ok {
				p.Properties[k[5:]] = s
			}
		}
	}
	return p
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
