package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/logging"
	"go.uber.org/zap"
)

const (
	feishuBaseURL     = "https://open.feishu.cn/open-apis"
	feishuSegmentSize = 500
	feishuMinContent  = 10
	feishuPageSize    = 50
)

// FeishuConnector reads every docx page of a Feishu wiki space:
// {"app_id": "...", "app_secret": "...", "wiki_space_id": "..."}
type FeishuConnector struct {
	req       domain.SyncRequest
	appID     string
	appSecret string
	spaceID   string
	baseURL   string
	client    *http.Client
	logger    *zap.Logger
}

type feishuNode struct {
	Title    string `json:"title"`
	ObjToken string `json:"obj_token"`
	ObjType  string `json:"obj_type"`
}

// NewFeishuFactory returns the factory for the feishu source type. A
// "base_url" config entry overrides the public API endpoint.
func NewFeishuFactory(client *http.Client, logger *zap.Logger) Factory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger = logging.OrNop(logger).With(zap.String("component", "feishu"))
	return func(req domain.SyncRequest) (Connector, error) {
		c := &FeishuConnector{
			req:       req,
			appID:     configString(req.Config, "app_id"),
			appSecret: configString(req.Config, "app_secret"),
			spaceID:   configString(req.Config, "wiki_space_id"),
			baseURL:   strings.TrimRight(configString(req.Config, "base_url"), "/"),
			client:    client,
			logger:    logger.With(zap.String("source_id", req.SourceID)),
		}
		if c.appID == "" || c.appSecret == "" || c.spaceID == "" {
			return nil, invalidConfig("feishu source requires app_id, app_secret and wiki_space_id")
		}
		if c.baseURL == "" {
			c.baseURL = feishuBaseURL
		}
		return c, nil
	}
}

func (c *FeishuConnector) Load(ctx context.Context) (<-chan domain.DocumentChunk, <-chan error) {
	return stream(ctx, func(ctx context.Context, emit emitFunc) error {
		token, err := c.tenantToken(ctx)
		if err != nil {
			return err
		}
		nodes, err := c.listNodes(ctx, token)
		if err != nil {
			return err
		}
		c.logger.Info("feishu space listed", zap.String("space_id", c.spaceID), zap.Int("nodes", len(nodes)))

		ordinal := 0
		for _, node := range nodes {
			if node.ObjType != "docx" {
				c.logger.Debug("skipping unsupported node type", zap.String("type", node.ObjType), zap.String("title", node.Title))
				continue
			}
			content, err := c.rawContent(ctx, token, node.ObjToken)
			if err != nil {
				c.logger.Warn("fetching document failed", zap.String("obj_token", node.ObjToken), zap.Error(err))
				continue
			}
			if len([]rune(strings.TrimSpace(content))) < feishuMinContent {
				continue
			}

			segs := make([]Segment, 0)
			for _, piece := range fixedSegments(content, feishuSegmentSize) {
				segs = append(segs, Segment{Text: piece, Page: 1})
			}
			extra := map[string]any{
				"source":            TypeFeishu,
				"doc_id":            node.ObjToken,
				"url":               "https://feishu.cn/wiki/" + node.ObjToken,
				domain.MetaFileName: node.Title,
			}
			var ok bool
			if ordinal, ok = emitSegments(c.req, segs, extra, ordinal, emit); !ok {
				return nil
			}
		}
		return nil
	})
}

func (c *FeishuConnector) tenantToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"app_id": c.appID, "app_secret": c.appSecret})
	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v3/tenant_access_token/internal", "", bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("feishu auth: %w", err)
	}
	if out.Code != 0 || out.TenantAccessToken == "" {
		return "", fmt.Errorf("feishu auth: code %d: %s", out.Code, out.Msg)
	}
	return out.TenantAccessToken, nil
}

func (c *FeishuConnector) listNodes(ctx context.Context, token string) ([]feishuNode, error) {
	var nodes []feishuNode
	pageToken := ""
	for {
		q := url.Values{"page_size": {fmt.Sprint(feishuPageSize)}}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		var out struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				Items     []feishuNode `json:"items"`
				HasMore   bool         `json:"has_more"`
				PageToken string       `json:"page_token"`
			} `json:"data"`
		}
		path := "/wiki/v2/spaces/" + url.PathEscape(c.spaceID) + "/nodes?" + q.Encode()
		if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
			return nil, fmt.Errorf("feishu list nodes: %w", err)
		}
		if out.Code != 0 {
			return nil, fmt.Errorf("feishu list nodes: code %d: %s", out.Code, out.Msg)
		}
		nodes = append(nodes, out.Data.Items...)
		if !out.Data.HasMore || out.Data.PageToken == "" {
			return nodes, nil
		}
		pageToken = out.Data.PageToken
	}
}

func (c *FeishuConnector) rawContent(ctx context.Context, token, objToken string) (string, error) {
	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/docx/v1/documents/"+url.PathEscape(objToken)+"/raw_content", token, nil, &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", fmt.Errorf("code %d: %s", out.Code, out.Msg)
	}
	return out.Data.Content, nil
}

func (c *FeishuConnector) do(ctx context.Context, method, path, token string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
