// Package ingest runs the document pipeline: fetch, chunk, persist,
// embed, upsert, and hand raw HTML to the discovery webhook so child
// documents can be ingested recursively.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/agenttic/agenttic/pkg/chunker"
	"github.com/agenttic/agenttic/pkg/collection"
	"github.com/agenttic/agenttic/pkg/discovery"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/embedder"
	"github.com/agenttic/agenttic/pkg/fetcher"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/metastore"
	"github.com/agenttic/agenttic/pkg/vectorstore"
)

type Service struct {
	fetcher    *fetcher.Service
	chunker    *chunker.Service
	embedder   *embedder.Service
	store      *vectorstore.Store
	meta       *metastore.Store
	discovery  *discovery.Client
	llm        *llm.Client
	tracker    *Tracker
	collection string
	depth      atomic.Int32
	subDocSem  chan struct{}
	logger     *log.Logger
}

type Options struct {
	Fetcher    *fetcher.Service
	Chunker    *chunker.Service
	Embedder   *embedder.Service
	Store      *vectorstore.Store
	Meta       *metastore.Store
	Discovery  *discovery.Client
	LLM        *llm.Client
	Tracker    *Tracker
	Collection string
	// DefaultDepth is the recursion depth when the request omits one.
	DefaultDepth int
	// SubDocConcurrency bounds parallel child ingests; it mirrors the
	// embedding concurrency so recursion cannot oversubscribe it.
	SubDocConcurrency int
}

func New(opts Options) *Service {
	if opts.DefaultDepth < 0 {
		opts.DefaultDepth = 0
	}
	if opts.SubDocConcurrency <= 0 {
		opts.SubDocConcurrency = 4
	}
	s := &Service{
		fetcher:    opts.Fetcher,
		chunker:    opts.Chunker,
		embedder:   opts.Embedder,
		store:      opts.Store,
		meta:       opts.Meta,
		discovery:  opts.Discovery,
		llm:        opts.LLM,
		tracker:    opts.Tracker,
		collection: opts.Collection,
		subDocSem:  make(chan struct{}, opts.SubDocConcurrency),
		logger:     log.WithModule("ingest"),
	}
	s.depth.Store(int32(opts.DefaultDepth))
	return s
}

// SetDefaultDepth swaps the recursion depth used when a request omits
// one. Applied live on config reload.
func (s *Service) SetDefaultDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	s.depth.Store(int32(depth))
}

// Progress carries the streaming callbacks for an ingest run. Nil
// callbacks are skipped.
type Progress struct {
	OnStatus      func(stage string)
	OnTotalChunks func(total int)
	OnProgress    func(done, total int)
}

func (p Progress) status(stage string) {
	if p.OnStatus != nil {
		p.OnStatus(stage)
	}
}

func (p Progress) totalChunks(total int) {
	if p.OnTotalChunks != nil {
		p.OnTotalChunks(total)
	}
}

func (p Progress) progress(done, total int) {
	if p.OnProgress != nil {
		p.OnProgress(done, total)
	}
}

// Ingest runs the full pipeline for one URL. sessionID is the caller's
// scope; empty means the fixed ingestion session.
func (s *Service) Ingest(ctx context.Context, sessionID string, req domain.IngestRequest, p Progress) (*domain.IngestResponse, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	if sessionID == "" {
		sessionID = domain.SessionIngest
	}

	depth := int(s.depth.Load())
	if req.RecursiveDepth != nil {
		depth = *req.RecursiveDepth
	}

	// Re-ingesting a known URL in the same session short-circuits with
	// the existing source instead of re-embedding.
	if !req.IsRecursive {
		if existing, err := s.meta.GetSourceByURL(ctx, req.URL, sessionID); err == nil {
			count, _ := s.meta.CountChunks(ctx, existing.ID)
			p.status("complete")
			return &domain.IngestResponse{
				Success:        true,
				Message:        "document already ingested",
				DocumentName:   existing.Title,
				CollectionName: collection.Name(existing.URL),
				TotalChunks:    int(count),
				SourceID:       existing.ID,
			}, nil
		}
	}

	documentName, collectionName := s.names(ctx, req)

	p.status("fetching")
	page, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	p.status("chunking")
	textChunks, err := s.chunker.SplitText(page.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoChunks, req.URL)
	}
	htmlChunks, err := s.chunker.SplitHTML(page.HTML)
	if err != nil {
		// Raw HTML only feeds discovery; a page without usable HTML
		// still ingests its text.
		s.logger.Warn("html chunking failed", "url", req.URL, "error", err)
		htmlChunks = nil
	}

	source, err := s.resolveSource(ctx, sessionID, req, documentName, page.Title)
	if err != nil {
		return nil, err
	}

	p.status("persisting")
	rows := s.chunkRows(sessionID, req.URL, source.ID, textChunks, htmlChunks)
	rows, err = s.meta.InsertChunks(ctx, rows)
	if err != nil {
		return nil, err
	}
	p.totalChunks(len(textChunks))

	p.status("embedding")
	if err := s.embedAndUpsert(ctx, rows[:len(textChunks)], p); err != nil {
		return nil, err
	}

	if depth > 0 {
		s.requestDiscovery(ctx, req.URL, documentName, collectionName, depth, rows[len(textChunks):])
	}

	p.status("complete")
	return &domain.IngestResponse{
		Success:        true,
		Message:        "ingested",
		DocumentName:   documentName,
		CollectionName: collectionName,
		TotalChunks:    len(textChunks),
		SourceID:       source.ID,
	}, nil
}

// names resolves the display and collection names: recursive ingests
// inherit the parent's, fresh ones ask the LLM with a URL-derived
// fallback.
func (s *Service) names(ctx context.Context, req domain.IngestRequest) (documentName, collectionName string) {
	documentName = req.DocumentName
	collectionName = req.CollectionName

	if documentName == "" && !req.IsRecursive {
		documentName = s.nameFromLLM(ctx, req.URL)
	}
	if documentName == "" {
		documentName = urlDerivedName(req.URL)
	}
	if collectionName == "" {
		collectionName = collection.Name(req.URL)
	}
	return documentName, collectionName
}

func (s *Service) nameFromLLM(ctx context.Context, pageURL string) string {
	prompt := fmt.Sprintf(`Suggest a short display name for the document at this URL.
Reply with JSON only: {"document_name": "..."}

URL: %s`, pageURL)

	text, err := s.llm.Generate(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("naming call failed, deriving from url", "url", pageURL, "error", err)
		return ""
	}
	var parsed struct {
		DocumentName string `json:"document_name"`
	}
	if err := domain.DecodeLLMJSON(text, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.DocumentName)
}

// urlDerivedName is the naming fallback: last meaningful path segment,
// else the host.
func urlDerivedName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return parsed.Host
}

// resolveSource reuses the parent Source for recursive descendants so
// a whole document family retrieves as one source.
func (s *Service) resolveSource(ctx context.Context, sessionID string, req domain.IngestRequest, documentName, pageTitle string) (*domain.Source, error) {
	if req.IsRecursive && req.ParentSourceID > 0 {
		source, err := s.meta.GetSource(ctx, req.ParentSourceID)
		if err == nil {
			return source, nil
		}
		s.logger.Warn("parent source missing, creating fresh", "parent_source_id", req.ParentSourceID)
	}

	title := documentName
	if title == "" {
		title = pageTitle
	}
	return s.meta.CreateSource(ctx, req.URL, title, sessionID)
}

// chunkRows builds the persistent chunk rows: text variant first, then
// the raw-HTML variant, each with its content-addressed id.
func (s *Service) chunkRows(sessionID, pageURL string, sourceID int64, textChunks, htmlChunks []string) []domain.Chunk {
	rows := make([]domain.Chunk, 0, len(textChunks)+len(htmlChunks))
	for i, content := range textChunks {
		rows = append(rows, domain.Chunk{
			ChunkID:   domain.ChunkDigest(sessionID, pageURL, i, false),
			Content:   content,
			SourceID:  sourceID,
			SessionID: sessionID,
		})
	}
	for i, content := range htmlChunks {
		rows = append(rows, domain.Chunk{
			ChunkID:   domain.ChunkDigest(sessionID, pageURL, i, true),
			Content:   content,
			SourceID:  sourceID,
			SessionID: sessionID,
		})
	}
	return rows
}

// embedAndUpsert embeds the text chunks and upserts whatever embedded
// successfully. Failed batches are recorded, not fatal, unless every
// batch failed.
func (s *Service) embedAndUpsert(ctx context.Context, chunks []domain.Chunk, p Progress) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, failed, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		s.logger.Warn("some embedding batches failed", "failed_offsets", failed, "total", len(chunks))
	}

	embedded := 0
	for _, v := range vectors {
		if v != nil {
			embedded++
		}
	}
	p.progress(embedded, len(chunks))

	return s.store.AddEmbeddings(ctx, s.collection, chunks, vectors)
}

// requestDiscovery posts the raw-HTML chunks for sub-document
// classification. A post failure marks the workflow row as errored but
// never fails the local ingest.
func (s *Service) requestDiscovery(ctx context.Context, pageURL, documentName, collectionName string, depth int, htmlRows []domain.Chunk) {
	if !s.discovery.Enabled() || len(htmlRows) == 0 {
		return
	}

	requestID := uuid.NewString()
	if err := s.meta.CreateWorkflow(ctx, requestID, documentName); err != nil {
		s.logger.Warn("workflow record failed", "request_id", requestID, "error", err)
	}

	items := make([]discovery.ChunkItem, len(htmlRows))
	for i, row := range htmlRows {
		items[i] = discovery.ChunkItem{ChunkID: row.ChunkID, Content: row.Content, Index: i}
	}

	err := s.discovery.Post(ctx, discovery.Request{
		DocumentName:   documentName,
		CollectionName: collectionName,
		URL:            pageURL,
		TotalChunks:    len(items),
		DataList:       items,
		RequestID:      requestID,
		RecursiveDepth: depth,
	})
	if err != nil {
		s.logger.Warn("discovery post failed", "request_id", requestID, "error", err)
		if uerr := s.meta.UpdateWorkflowStatus(ctx, requestID, domain.WorkflowError); uerr != nil {
			s.logger.Warn("workflow status update failed", "request_id", requestID, "error", uerr)
		}
	}
}
