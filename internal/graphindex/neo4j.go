package graphindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection settings for Neo4jClient
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jClient implements Client on Neo4j. Entities are (:Entity) nodes keyed by vid,
// relations are [:RELATES] edges distinguished by description, and chunks are
// (:Chunk) nodes reached through [:MENTIONED_IN].
type Neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// NewNeo4jClient connects and verifies connectivity
func NewNeo4jClient(ctx context.Context, cfg Neo4jConfig) (*Neo4jClient, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Neo4jClient{driver: driver, database: cfg.Database, timeout: timeout}, nil
}

func (c *Neo4jClient) Available() bool { return true }

func (c *Neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

var schemaStatements = []string{
	`CREATE CONSTRAINT entity_vid IF NOT EXISTS FOR (e:Entity) REQUIRE e.vid IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	`CREATE INDEX chunk_kb IF NOT EXISTS FOR (c:Chunk) ON (c.kb_id)`,
	`CREATE FULLTEXT INDEX entity_names IF NOT EXISTS FOR (e:Entity) ON EACH [e.name]`,
}

// EnsureSchema declares constraints and indexes. Callers treat failure as fatal.
func (c *Neo4jClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := c.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply schema %q: %w", stmt, err)
		}
	}
	return nil
}

func (c *Neo4jClient) UpsertEntities(ctx context.Context, entities []domain.Entity) error {
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.VID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"vid":         e.VID,
			"name":        e.Name,
			"type":        e.Type,
			"description": e.Description,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := c.write(ctx, `
		UNWIND $rows AS row
		MERGE (e:Entity {vid: row.vid})
		SET e.name = row.name, e.type = row.type, e.description = row.description`,
		map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("failed to upsert %d entities: %w", len(rows), err)
	}
	return nil
}

func (c *Neo4jClient) UpsertRelations(ctx context.Context, relations []domain.Relation) error {
	rows := make([]map[string]any, 0, len(relations))
	for _, r := range relations {
		if r.SrcVID == "" || r.DstVID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"src":         r.SrcVID,
			"dst":         r.DstVID,
			"description": r.Description,
			"weight":      r.Weight,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	// MERGE on description keeps distinct labels and collapses exact repeats
	_, err := c.write(ctx, `
		UNWIND $rows AS row
		MATCH (s:Entity {vid: row.src})
		MATCH (d:Entity {vid: row.dst})
		MERGE (s)-[r:RELATES {description: row.description}]->(d)
		SET r.weight = row.weight`,
		map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("failed to upsert %d relations: %w", len(rows), err)
	}
	return nil
}

func (c *Neo4jClient) UpsertChunkLink(ctx context.Context, chunkID string, entityVIDs []string, meta ChunkMeta) error {
	if entityVIDs == nil {
		entityVIDs = []string{}
	}
	_, err := c.write(ctx, `
		MERGE (c:Chunk {id: $id})
		SET c.kb_id = $kb_id, c.source_id = $source_id, c.page_number = $page, c.breadcrumb = $breadcrumb
		WITH c
		UNWIND $vids AS vid
		MATCH (e:Entity {vid: vid})
		MERGE (e)-[m:MENTIONED_IN]->(c)
		SET m.score = 1.0`,
		map[string]any{
			"id":         chunkID,
			"kb_id":      meta.KBID,
			"source_id":  meta.SourceID,
			"page":       int64(meta.PageNumber),
			"breadcrumb": meta.Breadcrumb,
			"vids":       entityVIDs,
		})
	if err != nil {
		return fmt.Errorf("failed to link chunk %s: %w", chunkID, err)
	}
	return nil
}

func (c *Neo4jClient) RetrieveSubgraph(ctx context.Context, entityNames []string, depth int) ([]string, error) {
	vids := entityVIDs(entityNames)
	if len(vids) == 0 {
		return nil, nil
	}
	depth = clampDepth(depth)

	query := fmt.Sprintf(`
		MATCH p = (e:Entity)-[:RELATES*1..%d]-(:Entity)
		WHERE e.vid IN $vids
		UNWIND relationships(p) AS r
		WITH DISTINCT r
		RETURN startNode(r).name AS src, r.description AS rel, endNode(r).name AS dst
		LIMIT $limit`, depth)

	records, err := c.read(ctx, query, map[string]any{"vids": vids, "limit": MaxSubgraphResults})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subgraph: %w", err)
	}

	triplets := make([]Triplet, 0, len(records))
	for _, rec := range records {
		triplets = append(triplets, Triplet{
			Src:   stringField(rec, "src"),
			Label: stringField(rec, "rel"),
			Dst:   stringField(rec, "dst"),
		})
	}
	return FormatTriplets(triplets), nil
}

func (c *Neo4jClient) EntityNeighborhood(ctx context.Context, entityName string) (string, error) {
	vid := domain.EntityVID(entityName)
	if vid == "" {
		return "", nil
	}

	records, err := c.read(ctx, `
		MATCH (e:Entity {vid: $vid})
		RETURN e.name AS name, e.type AS type, e.description AS description`,
		map[string]any{"vid": vid})
	if err != nil {
		return "", fmt.Errorf("failed to load entity: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	entity := domain.Entity{
		VID:         vid,
		Name:        stringField(records[0], "name"),
		Type:        stringField(records[0], "type"),
		Description: stringField(records[0], "description"),
	}

	factRecords, err := c.read(ctx, `
		MATCH (e:Entity {vid: $vid})-[r:RELATES]-(:Entity)
		RETURN startNode(r).name AS src, r.description AS rel, endNode(r).name AS dst
		LIMIT $limit`,
		map[string]any{"vid": vid, "limit": MaxNeighborhoodResults})
	if err != nil {
		return "", fmt.Errorf("failed to load neighborhood: %w", err)
	}

	facts := make([]Triplet, 0, len(factRecords))
	for _, rec := range factRecords {
		facts = append(facts, Triplet{Src: stringField(rec, "src"), Label: stringField(rec, "rel"), Dst: stringField(rec, "dst")})
	}
	return FormatNeighborhood(entity, facts), nil
}

func (c *Neo4jClient) ChunkScores(ctx context.Context, entityNames []string, kbIDs []string) (map[string]float64, error) {
	vids := entityVIDs(entityNames)
	scores := make(map[string]float64)
	if len(vids) == 0 {
		return scores, nil
	}
	if kbIDs == nil {
		kbIDs = []string{}
	}

	records, err := c.read(ctx, `
		MATCH (e:Entity)-[:MENTIONED_IN]->(c:Chunk)
		WHERE e.vid IN $vids AND (size($kbs) = 0 OR c.kb_id IN $kbs)
		RETURN c.id AS chunk_id, count(DISTINCT e) AS score`,
		map[string]any{"vids": vids, "kbs": kbIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to score chunks: %w", err)
	}

	for _, rec := range records {
		id := stringField(rec, "chunk_id")
		if id == "" {
			continue
		}
		if v, ok := rec.Get("score"); ok {
			if n, ok := v.(int64); ok {
				scores[id] = float64(n)
			}
		}
	}
	return scores, nil
}

func (c *Neo4jClient) SearchEntities(ctx context.Context, name string, limit int) ([]domain.Entity, error) {
	q := fuzzyQuery(name)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}

	records, err := c.read(ctx, `
		CALL db.index.fulltext.queryNodes('entity_names', $q) YIELD node, score
		RETURN node.vid AS vid, node.name AS name, node.type AS type, node.description AS description
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{"q": q, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}

	out := make([]domain.Entity, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.Entity{
			VID:         stringField(rec, "vid"),
			Name:        stringField(rec, "name"),
			Type:        stringField(rec, "type"),
			Description: stringField(rec, "description"),
		})
	}
	return out, nil
}

func (c *Neo4jClient) Subgraph(ctx context.Context, entityNames []string) (*domain.Subgraph, error) {
	vids := entityVIDs(entityNames)
	sg := &domain.Subgraph{}
	if len(vids) == 0 {
		return sg, nil
	}

	records, err := c.read(ctx, `
		MATCH (e:Entity)-[r:RELATES]-(:Entity)
		WHERE e.vid IN $vids
		WITH DISTINCT r, startNode(r) AS s, endNode(r) AS d
		RETURN s.vid AS s_vid, s.name AS s_name, s.type AS s_type,
		       d.vid AS d_vid, d.name AS d_name, d.type AS d_type,
		       r.description AS rel, r.weight AS weight
		LIMIT $limit`,
		map[string]any{"vids": vids, "limit": MaxSubgraphResults})
	if err != nil {
		return nil, fmt.Errorf("failed to load subgraph: %w", err)
	}

	seen := make(map[string]bool)
	addNode := func(vid, name, typ string) {
		if vid == "" || seen[vid] {
			return
		}
		seen[vid] = true
		sg.Nodes = append(sg.Nodes, domain.Entity{VID: vid, Name: name, Type: typ})
	}
	for _, rec := range records {
		addNode(stringField(rec, "s_vid"), stringField(rec, "s_name"), stringField(rec, "s_type"))
		addNode(stringField(rec, "d_vid"), stringField(rec, "d_name"), stringField(rec, "d_type"))
		weight, _ := rec.Get("weight")
		w, _ := weight.(float64)
		sg.Edges = append(sg.Edges, domain.Relation{
			SrcVID:      stringField(rec, "s_vid"),
			DstVID:      stringField(rec, "d_vid"),
			Description: stringField(rec, "rel"),
			Weight:      w,
		})
	}
	return sg, nil
}

func (c *Neo4jClient) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	return c.run(ctx, neo4j.AccessModeRead, query, params)
}

func (c *Neo4jClient) write(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	return c.run(ctx, neo4j.AccessModeWrite, query, params)
}

func (c *Neo4jClient) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	}

	var out any
	var err error
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work)
	} else {
		out, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// fuzzyQuery builds a Lucene query matching every token of name with edit distance.
// Name text is escaped before it is placed into the query string.
func fuzzyQuery(name string) string {
	tokens := strings.Fields(domain.NormalizeEntityName(name))
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, luceneEscape(tok)+"~")
	}
	return strings.Join(parts, " AND ")
}

var luceneReplacer = strings.NewReplacer(
	"+", `\+`, "-", `\-`, "&", `\&`, "|", `\|`, "!", `\!`, "(", `\(`, ")", `\)`,
	"{", `\{`, "}", `\}`, "[", `\[`, "]", `\]`, "^", `\^`, "~", `\~`, "*", `\*`,
	"?", `\?`, ":", `\:`, "/", `\/`,
)

func luceneEscape(s string) string {
	return luceneReplacer.Replace(Escape(s))
}
