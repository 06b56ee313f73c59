package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-dev/inkwell/internal/extract"
	"github.com/inkwell-dev/inkwell/internal/prompt"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/store"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

// generateRequest is the body for both generation endpoints. Field names
// match the Obsidian plugin's JSON.
type generateRequest struct {
	SelectedText  string `json:"selectedText"`
	DirectorNotes string `json:"directorNotes"`
	WordCount     int    `json:"wordCount"`
}

type extractRequest struct {
	SelectedText string `json:"selectedText"`
}

type searchResult struct {
	Key        string   `json:"key"`
	Path       string   `json:"path"`
	Excerpt    string   `json:"excerpt"`
	Score      float64  `json:"score"`
	Source     string   `json:"source"`
	ReasonTags []string `json:"reasonTags"`
}

func (s *Server) contextPaths() vault.ContextPaths {
	v := s.services.Config.Vault
	return vault.ContextPaths{
		StoryBible:      v.StoryBiblePath,
		Extractions:     v.ExtractionsPath,
		SlidingWindow:   v.SlidingWindowPath,
		PreviousBook:    v.PreviousBookPath,
		CharacterFolder: v.CharacterFolder,
	}
}

// retrieve runs a search and applies the reranker when configured. A rerank
// failure degrades to the fused order instead of failing the request.
func (s *Server) retrieve(ctx context.Context, query retrieval.Query, opts retrieval.Options) ([]*retrieval.CandidateItem, error) {
	items, err := s.services.Engine.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	if s.services.Reranker != nil && len(items) > 1 {
		reranked, err := s.services.Reranker.Rerank(ctx, query, items,
			retrieval.RerankOptions{Limit: retrieval.ClampLimit(opts.Limit)})
		if err != nil {
			slog.Warn("rerank failed, serving fused order", "error", err)
			// Retry the model load and score the shortlist off the
			// request path; once the scoring server recovers, the next
			// query reranks from cache.
			go s.services.Reranker.Warm(context.Background(), query, items, len(items))
		} else {
			items = reranked
		}
	}
	return items, nil
}

// relatedPassages renders retrieval output for prompt inclusion.
func relatedPassages(items []*retrieval.CandidateItem) string {
	passages := make([]*store.Passage, len(items))
	for i, item := range items {
		passages[i] = &store.Passage{NotePath: item.Path, Content: item.Excerpt}
	}
	return vault.FormatRelatedPassages(passages)
}

func (s *Server) handleGenerateChapter(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ctx := c.Request.Context()
	chapterCtx := s.services.Aggregator.ChapterContext(s.contextPaths())

	// Canon excerpts come from our own index, queried with the author's
	// direction for this chapter.
	if req.DirectorNotes != "" {
		items, err := s.retrieve(ctx, retrieval.Query{Text: req.DirectorNotes},
			retrieval.Options{Limit: s.services.Config.Search.MaxResults})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		chapterCtx.RelatedPassages = relatedPassages(items)
	} else {
		chapterCtx.RelatedPassages = vault.FormatRelatedPassages(nil)
	}

	wordCount := req.WordCount
	if wordCount <= 0 {
		wordCount = s.services.Config.Generation.WordCount
	}
	p, err := prompt.BuildChapter(chapterCtx, req.DirectorNotes, wordCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	text, err := s.services.Generator.Generate(ctx, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Server) handleMicroEdit(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.SelectedText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "selectedText required"})
		return
	}

	ctx := c.Request.Context()
	editCtx := s.services.Aggregator.MicroEditContext(s.contextPaths())

	// Style echoes: passages similar to the one under edit.
	items, err := s.retrieve(ctx, retrieval.Query{Text: req.SelectedText},
		retrieval.Options{Limit: s.services.Config.Search.MaxResults})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	editCtx.RelatedPassages = relatedPassages(items)

	p, err := prompt.BuildMicroEdit(req.SelectedText, req.DirectorNotes, editCtx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	text, err := s.services.Generator.Generate(ctx, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Server) handleExtractCharacters(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.SelectedText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "selectedText required"})
		return
	}

	paths := s.contextPaths()
	notes, err := s.services.Aggregator.CharacterNotes(paths.CharacterFolder)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	storyBible := s.services.Aggregator.ChapterContext(paths).StoryBible

	p, err := prompt.BuildCharacterExtraction(req.SelectedText, notes, storyBible)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	result, err := s.services.Generator.Generate(c.Request.Context(), p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	updates := extract.Parse(result)
	if updates == nil {
		updates = []extract.Update{}
	}
	c.JSON(http.StatusOK, gin.H{"updates": updates})
}

func (s *Server) handleSearch(c *gin.Context) {
	queryText := c.Query("q")
	if queryText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "q required"})
		return
	}

	limit := s.services.Config.Search.MaxResults
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	query := retrieval.Query{Text: queryText}
	if noteType := c.Query("type"); noteType != "" {
		query.Filters = map[string]string{"type": noteType}
	}
	opts := retrieval.Options{
		Limit:           limit,
		DisableSemantic: c.Query("semantic") == "false",
	}

	items, err := s.retrieve(c.Request.Context(), query, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	results := make([]searchResult, len(items))
	for i, item := range items {
		results[i] = searchResult{
			Key:        item.Key,
			Path:       item.Path,
			Excerpt:    item.Excerpt,
			Score:      item.Score,
			Source:     string(item.Source),
			ReasonTags: item.ReasonTags,
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
