package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/common"
	"mediatracker/searchservice/internal/telemetry"
)

const (
	// maxChatTurns bounds completion calls per request. Tools are only
	// offered before the last turn, so the model must answer by then.
	maxChatTurns    = 2
	webSearchTool   = "web_search"
	maxToolResults  = 8
	maxGroundingHit = 8
	aiTemperature   = 0.2
)

var ErrAIDisabled = errors.New("ai provider is not configured")

var webSearchParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "type": {"type": "string", "description": "Optional media type: Book, Movie, TV Series, Comic, Short Drama, Music"}
  },
  "required": ["query"]
}`)

func webSearchToolDefinition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Type: "function",
		Function: domain.FunctionSpec{
			Name:        webSearchTool,
			Description: "Search the web for media titles, release dates, creators and synopses.",
			Parameters:  webSearchParameters,
		},
	}
}

// Chat runs a conversation through the completion provider with the web
// search tool available.
func (s *Service) Chat(ctx context.Context, messages []domain.ChatMessage, temperature float64) (domain.ChatMessage, error) {
	if s.ai == nil || !s.ai.Enabled() {
		return domain.ChatMessage{}, ErrAIDisabled
	}
	if len(messages) == 0 {
		return domain.ChatMessage{}, ErrInvalidQuery
	}
	ctx, span := telemetry.StartSpan(ctx, "search.chat", attribute.Int("chat.messages", len(messages)))
	reply, err := s.runToolLoop(ctx, messages, temperature)
	telemetry.EndSpan(span, err)
	return reply, err
}

// askAI asks the completion provider for a structured result list grounded on
// the scored web context. Any failure yields no items.
func (s *Service) askAI(ctx context.Context, plan QueryPlan, grounding []domain.ScoredResult) []domain.MediaItem {
	if s.ai == nil || !s.ai.Enabled() {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "search.ai")
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: mediaSystemPrompt(plan.Language)},
		{Role: domain.RoleUser, Content: mediaUserPrompt(plan, grounding)},
	}
	reply, err := s.runToolLoop(ctx, messages, aiTemperature)
	telemetry.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("ai search failed",
			slog.String("query", plan.Query),
			slog.String("error", err.Error()),
		)
		s.logCall(FamilyAI, plan.Query, nil, 0, 0, err)
		return nil
	}
	items := parseAIItems(reply.Content, plan)
	s.logCall(FamilyAI, plan.Query, nil, len(items), 0, nil)
	return items
}

func (s *Service) runToolLoop(ctx context.Context, messages []domain.ChatMessage, temperature float64) (domain.ChatMessage, error) {
	history := append([]domain.ChatMessage(nil), messages...)
	for turn := 0; turn < maxChatTurns; turn++ {
		req := domain.ChatRequest{Messages: history, Temperature: temperature}
		last := turn == maxChatTurns-1
		if !last {
			req.Tools = []domain.ToolDefinition{webSearchToolDefinition()}
		}
		resp, err := s.ai.Complete(ctx, req)
		if err != nil {
			if common.IsQuota(err) {
				s.quota.Notify(FamilyAI, err)
			}
			return domain.ChatMessage{}, err
		}
		if last || !resp.WantsTools() {
			return resp.Message, nil
		}
		history = append(history, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			history = append(history, domain.ChatMessage{
				Role:       domain.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    s.executeTool(ctx, call),
			})
		}
	}
	return domain.ChatMessage{}, fmt.Errorf("no reply after %d turns", maxChatTurns)
}

type toolHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Year    int    `json:"year,omitempty"`
}

func (s *Service) executeTool(ctx context.Context, call domain.ToolCall) string {
	if call.Function.Name != webSearchTool {
		metrics.AIToolCallsTotal.WithLabelValues(call.Function.Name, "unknown").Inc()
		return `{"error":"unknown tool"}`
	}
	var args struct {
		Query string `json:"query"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		metrics.AIToolCallsTotal.WithLabelValues(webSearchTool, "error").Inc()
		return `{"error":"query is required"}`
	}
	result, err := s.WebSearch(ctx, args.Query, domain.ParseMediaType(args.Type), "", domain.SearchKindText)
	if err != nil {
		metrics.AIToolCallsTotal.WithLabelValues(webSearchTool, "error").Inc()
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	metrics.AIToolCallsTotal.WithLabelValues(webSearchTool, "ok").Inc()
	data, _ := json.Marshal(toolHits(result.Results, maxToolResults))
	return string(data)
}

func toolHits(results []domain.ScoredResult, limit int) []toolHit {
	hits := make([]toolHit, 0, limit)
	for _, result := range results {
		if len(hits) == limit {
			break
		}
		hits = append(hits, toolHit{
			Title:   result.CleanTitle,
			Snippet: common.Truncate(result.Snippet, 300),
			Link:    result.Link,
			Year:    result.Year,
		})
	}
	return hits
}

func mediaSystemPrompt(lang domain.Language) string {
	language := "English"
	if lang == domain.LanguageZH {
		language = "Simplified Chinese"
	}
	return "You are a media catalog assistant. Identify the books, movies, TV series, comics, short dramas or music the user is looking for. " +
		"Reply with ONLY a JSON array and no other text. Each element has the keys " +
		`"title", "type", "releaseDate", "directorOrAuthor", "description", "cast", "rating", "posterUrl", "sourceUrl". ` +
		`"type" is one of Book, Movie, TV Series, Comic, Short Drama, Music, Other. ` +
		`"releaseDate" is YYYY-MM-DD, YYYY-MM or YYYY. Leave unknown fields empty rather than guessing. ` +
		"Write descriptions in " + language + ". Return at most 10 items, best match first."
}

func mediaUserPrompt(plan QueryPlan, grounding []domain.ScoredResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", plan.Query)
	if plan.Declared {
		fmt.Fprintf(&b, "Media type: %s\n", plan.Type)
	}
	if len(grounding) > 0 {
		data, _ := json.Marshal(toolHits(grounding, maxGroundingHit))
		b.WriteString("Web results:\n")
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

// aiItem accepts the field spellings models commonly return.
type aiItem struct {
	Title            string          `json:"title"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	ReleaseDate      string          `json:"releaseDate"`
	Year             json.RawMessage `json:"year"`
	DirectorOrAuthor string          `json:"directorOrAuthor"`
	Director         string          `json:"director"`
	Author           string          `json:"author"`
	Description      string          `json:"description"`
	Cast             flexibleStrings `json:"cast"`
	Rating           json.RawMessage `json:"rating"`
	PosterURL        string          `json:"posterUrl"`
	SourceURL        string          `json:"sourceUrl"`
}

// flexibleStrings decodes either a JSON string list or one comma separated string.
type flexibleStrings []string

func (f *flexibleStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		*f = nil
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(joined, func(r rune) bool { return r == ',' || r == '、' || r == '，' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*f = out
	return nil
}

func parseAIItems(content string, plan QueryPlan) []domain.MediaItem {
	parsed, ok := findAIItems(content)
	if !ok {
		return nil
	}

	out := make([]domain.MediaItem, 0, len(parsed))
	for _, entry := range parsed {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			title = strings.TrimSpace(entry.Name)
		}
		if domain.IsMissing(title) {
			continue
		}
		mediaType := domain.ParseMediaType(entry.Type)
		if mediaType == domain.MediaTypeAll {
			mediaType = domain.MediaTypeOther
			if plan.Declared {
				mediaType = plan.Type
			}
		}
		dateRaw := entry.ReleaseDate
		if strings.TrimSpace(dateRaw) == "" {
			dateRaw = rawScalar(entry.Year)
		}
		date, _ := domain.NormalizeDate(dateRaw)
		out = append(out, domain.MediaItem{
			Title:            title,
			Type:             mediaType,
			ReleaseDate:      date,
			DirectorOrAuthor: common.JoinNonEmpty(", ", entry.DirectorOrAuthor, entry.Director, entry.Author),
			Description:      strings.TrimSpace(entry.Description),
			Cast:             []string(entry.Cast),
			Rating:           parseRating(entry.Rating),
			PosterURL:        strings.TrimSpace(entry.PosterURL),
			SourceURL:        strings.TrimSpace(entry.SourceURL),
			Sources:          []string{FamilyAI},
			Origin:           domain.TrustInferred,
		})
	}
	return out
}

// findAIItems locates the result list in a reply that may be wrapped in prose
// or a fenced code block. The fenced body is tried before the whole reply.
// Within a text every '[' or '{' is a possible start, and the first value
// that decodes as a list, an {"items": [...]} wrapper or a single item wins.
func findAIItems(content string) ([]aiItem, bool) {
	text := strings.TrimSpace(content)
	texts := make([]string, 0, 2)
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			texts = append(texts, strings.TrimSpace(body[:end]))
		}
	}
	texts = append(texts, text)

	for _, candidate := range texts {
		if items, ok := decodeAIItems([]byte(candidate)); ok {
			return items, true
		}
		for i := 0; i < len(candidate); i++ {
			if candidate[i] != '[' && candidate[i] != '{' {
				continue
			}
			var raw json.RawMessage
			if err := json.NewDecoder(strings.NewReader(candidate[i:])).Decode(&raw); err != nil {
				continue
			}
			if items, ok := decodeAIItems(raw); ok {
				return items, true
			}
		}
	}
	return nil, false
}

func decodeAIItems(raw []byte) ([]aiItem, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	switch raw[0] {
	case '[':
		var list []aiItem
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, false
		}
		return list, true
	case '{':
		var wrapped struct {
			Items *[]aiItem `json:"items"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Items != nil {
			return *wrapped.Items, true
		}
		var single aiItem
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, false
		}
		if strings.TrimSpace(single.Title) == "" && strings.TrimSpace(single.Name) == "" {
			return nil, false
		}
		return []aiItem{single}, true
	}
	return nil, false
}

func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return string(raw)
}

func parseRating(raw json.RawMessage) string {
	value := rawScalar(raw)
	if value == "" {
		return ""
	}
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		return common.FormatRating(number)
	}
	return value
}
