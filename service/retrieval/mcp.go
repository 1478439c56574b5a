package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"knowledge-base-backend/middleware"
	"knowledge-base-backend/service/index"
	knowledgebase "knowledge-base-backend/service/knowledge-base"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	mcpServerName = "knowledge-base"

	ToolInsertVector    = "insert_vector"
	ToolSearchVector    = "search_vector"
	ToolFulltextSearch  = "fulltext_search_documents"
	ToolHybridSearch    = "hybrid_search"
	ToolTextToEmbedding = "text_to_embedding"
	ToolQueryRecords    = "query_records"
	ToolRerank          = "rerank"
)

// NewMCPServer 以 MCP 工具的形式提供知识库写入与检索，供工作流调用
func NewMCPServer(svc *Service, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &toolHandler{svc: svc, logger: logger.With("component", "mcp")}

	s := server.NewMCPServer(mcpServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolInsertVector,
		mcp.WithDescription("向知识库写入一条文本，按主键覆盖写入"),
		mcp.WithString("collection_name", mcp.Required(), mcp.Description("知识库名称")),
		mcp.WithString("text", mcp.Required(), mcp.Description("写入的文本")),
		mcp.WithString("pk", mcp.Description("主键，为空时按文本内容生成")),
		mcp.WithObject("metadata", mcp.Description("元数据")),
	), h.insertVector)

	s.AddTool(searchTool(ToolSearchVector, "语义检索，返回与查询向量距离最近的记录"), h.searchHandler(ModeVector))
	s.AddTool(searchTool(ToolFulltextSearch, "全文检索，按关键词相关度返回记录"), h.searchHandler(ModeFulltext))
	s.AddTool(searchTool(ToolHybridSearch, "混合检索，语义检索与全文检索结果按倒数排名融合"), h.searchHandler(ModeHybrid))

	s.AddTool(mcp.NewTool(ToolTextToEmbedding,
		mcp.WithDescription("把文本转换为向量"),
		mcp.WithString("text", mcp.Required(), mcp.Description("文本")),
		mcp.WithString("embedding_model", mcp.Description("embedding 模型，为空时使用知识库的模型")),
		mcp.WithString("collection_name", mcp.Description("知识库名称")),
	), h.textToEmbedding)

	s.AddTool(mcp.NewTool(ToolQueryRecords,
		mcp.WithDescription("按过滤表达式分页列出知识库中的记录"),
		mcp.WithString("collection_name", mcp.Required(), mcp.Description("知识库名称")),
		mcp.WithString("expr", mcp.Description("向量库过滤表达式，如 metadata[\"lang\"] == \"en\"")),
		mcp.WithNumber("offset", mcp.Description("跳过的记录数")),
		mcp.WithNumber("limit", mcp.Description("返回的记录数，默认 30")),
	), h.queryRecords)

	s.AddTool(mcp.NewTool(ToolRerank,
		mcp.WithDescription("按与查询的相关度对文档列表重新排序"),
		mcp.WithString("query", mcp.Required(), mcp.Description("查询文本")),
		mcp.WithArray("documents", mcp.Required(), mcp.WithStringItems(), mcp.Description("待排序的文档")),
		mcp.WithNumber("top_k", mcp.Description("返回的文档数，不设置则返回全部")),
		mcp.WithString("embedding_model", mcp.Description("embedding 模型，为空时使用知识库的模型")),
		mcp.WithString("collection_name", mcp.Description("知识库名称")),
	), h.rerank)

	return s
}

// NewMCPHandler 通过 streamable HTTP 提供 MCP 服务，调用方身份来自 JWT
func NewMCPHandler(svc *Service, secret, version string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return server.NewStreamableHTTPServer(NewMCPServer(svc, version, logger),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			token, err := middleware.TokenFromRequest(r)
			if err != nil {
				return ctx
			}
			claims, err := middleware.ParseToken(secret, token)
			if err != nil {
				logger.Info("invalid mcp token", "err", err)
				return ctx
			}
			return middleware.WithClaims(ctx, claims)
		}),
	)
}

func searchTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("collection_name", mcp.Required(), mcp.Description("知识库名称")),
		mcp.WithString("query", mcp.Required(), mcp.Description("查询文本")),
		mcp.WithNumber("top_k", mcp.Description("返回的记录数，默认 10，最大 100")),
		mcp.WithObject("filter", mcp.Description("元数据等值过滤条件")),
		mcp.WithString("embedding_model", mcp.Description("embedding 模型，为空时使用知识库的模型")),
	)
}

type toolHandler struct {
	svc    *Service
	logger *slog.Logger
}

func (h *toolHandler) insertVector(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(middleware.ErrInvalidToken.Error()), nil
	}
	name, err := req.RequireString("collection_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	record, err := h.svc.Insert(ctx, knowledgebase.RecordRequest{
		TeamID:         claims.TeamID,
		UserID:         claims.UserID,
		AppID:          claims.AppID,
		CollectionName: name,
		PK:             req.GetString("pk", ""),
		Text:           text,
		Metadata:       objectArg(req, "metadata"),
	})
	if err != nil {
		h.logger.Error("failed to insert vector", "collection", name, "err", err)
		return mcp.NewToolResultErrorFromErr("failed to insert vector", err), nil
	}
	return jsonResult(map[string]any{"pk": record.PK})
}

func (h *toolHandler) searchHandler(mode Mode) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		claims, ok := middleware.ClaimsFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError(middleware.ErrInvalidToken.Error()), nil
		}
		name, err := req.RequireString("collection_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		hits, err := h.svc.Search(ctx, claims.TeamID, claims.AppID, name, mode, index.Query{
			Text:   query,
			Model:  req.GetString("embedding_model", ""),
			Filter: objectArg(req, "filter"),
			TopK:   req.GetInt("top_k", index.DefaultTopK),
		})
		if err != nil {
			h.logger.Error("failed to search", "collection", name, "mode", mode, "err", err)
			return mcp.NewToolResultErrorFromErr("failed to search", err), nil
		}
		return jsonResult(hits)
	}
}

func (h *toolHandler) textToEmbedding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(middleware.ErrInvalidToken.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	vector, err := h.svc.Embed(ctx, claims.TeamID,
		req.GetString("collection_name", ""),
		req.GetString("embedding_model", ""),
		text)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to embed text", err), nil
	}
	return jsonResult(vector)
}

func (h *toolHandler) queryRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(middleware.ErrInvalidToken.Error()), nil
	}
	name, err := req.RequireString("collection_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := h.svc.QueryRecords(ctx, claims.TeamID, claims.AppID, name, index.RecordQuery{
		Expr:   req.GetString("expr", ""),
		Offset: req.GetInt("offset", 0),
		Limit:  req.GetInt("limit", index.DefaultQueryLimit),
	})
	if err != nil {
		h.logger.Error("failed to query records", "collection", name, "err", err)
		return mcp.NewToolResultErrorFromErr("failed to query records", err), nil
	}
	return jsonResult(map[string]any{"records": records})
}

func (h *toolHandler) rerank(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError(middleware.ErrInvalidToken.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	documents, err := req.RequireStringSlice("documents")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := h.svc.Rerank(ctx, claims.TeamID,
		req.GetString("collection_name", ""),
		req.GetString("embedding_model", ""),
		query, documents, req.GetInt("top_k", 0))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to rerank documents", err), nil
	}

	sorted := make([]string, len(results))
	scores := make([]float64, len(results))
	for i, r := range results {
		sorted[i] = r.Document
		scores[i] = r.Score
	}
	return jsonResult(map[string]any{
		"results":          results,
		"sorted_documents": sorted,
		"scores":           scores,
		"text":             strings.Join(sorted, "\n"),
	})
}

func objectArg(req mcp.CallToolRequest, key string) map[string]any {
	v, _ := req.GetArguments()[key].(map[string]any)
	return v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
