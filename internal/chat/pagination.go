package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"athena-chat/internal/athena"
)

// Fetcher loads one page of a conversation
type Fetcher interface {
	FetchConversation(ctx context.Context, conversationID string, page int) (*athena.ConversationPage, error)
}

// Cursor is the paging position of the loaded conversation
type Cursor struct {
	Page         int
	FetchedPages []int
	HasMore      bool
}

// Paginator loads conversation history backward in time into a MessageList
type Paginator struct {
	fetcher Fetcher
	list    *MessageList
	log     *zap.Logger
	group   singleflight.Group

	mu             sync.Mutex
	conversationID string
	page           int
	fetched        map[int]bool
	hasMore        bool
	// gen changes on every Reset so results for an abandoned conversation are dropped
	gen uint64
}

// NewPaginator creates a paginator that writes into list
func NewPaginator(fetcher Fetcher, list *MessageList, log *zap.Logger) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		list:    list,
		log:     log,
		fetched: make(map[int]bool),
	}
}

// Reset points the paginator at a conversation with nothing fetched
func (p *Paginator) Reset(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.conversationID = conversationID
	p.page = 0
	p.fetched = make(map[int]bool)
	p.hasMore = conversationID != ""
}

// Adopt marks a conversation created by the running turn. Everything in it
// is already in the list, so there is nothing older to load.
func (p *Paginator) Adopt(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.conversationID = conversationID
	p.page = 1
	p.fetched = map[int]bool{1: true}
	p.hasMore = false
}

// Cursor returns the current paging position
func (p *Paginator) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	pages := make([]int, 0, len(p.fetched))
	for n := range p.fetched {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	return Cursor{Page: p.page, FetchedPages: pages, HasMore: p.hasMore}
}

// LoadInitial fetches page 1 and replaces the list with it
func (p *Paginator) LoadInitial(ctx context.Context) error {
	_, err := p.fetchPage(ctx, 1, true)
	return err
}

// LoadMore fetches the next unfetched page and appends it. It returns the
// number of messages added; zero with a nil error means there was nothing to do.
func (p *Paginator) LoadMore(ctx context.Context) (int, error) {
	p.mu.Lock()
	if !p.hasMore || p.conversationID == "" {
		p.mu.Unlock()
		return 0, nil
	}
	next := p.page + 1
	p.mu.Unlock()

	return p.fetchPage(ctx, next, false)
}

// FindMessageByID makes sure the message with id is loaded, walking older
// pages at most maxAttempts times. It reports whether the message was found.
func (p *Paginator) FindMessageByID(ctx context.Context, id string, maxAttempts int) (athena.Message, bool, error) {
	if msg, ok := p.list.Find(id); ok {
		return msg, true, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		p.mu.Lock()
		more := p.hasMore && p.conversationID != ""
		p.mu.Unlock()
		if !more {
			break
		}

		if _, err := p.LoadMore(ctx); err != nil {
			return athena.Message{}, false, err
		}
		if msg, ok := p.list.Find(id); ok {
			return msg, true, nil
		}
	}

	return athena.Message{}, false, nil
}

func (p *Paginator) fetchPage(ctx context.Context, page int, replace bool) (int, error) {
	p.mu.Lock()
	if p.fetched[page] || p.conversationID == "" {
		p.mu.Unlock()
		return 0, nil
	}
	gen := p.gen
	conversationID := p.conversationID
	p.mu.Unlock()

	key := fmt.Sprintf("%d/%s/%d", gen, conversationID, page)
	v, err, shared := p.group.Do(key, func() (any, error) {
		return p.fetcher.FetchConversation(ctx, conversationID, page)
	})
	if err != nil {
		return 0, fmt.Errorf("fetch page %d of %s: %w", page, conversationID, err)
	}
	result := v.(*athena.ConversationPage)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.fetched[page] {
		// Another caller already applied this page, or the conversation changed
		return 0, nil
	}
	p.fetched[page] = true
	if page > p.page {
		p.page = page
	}
	p.hasMore = result.PaginationInfo.HasNext

	p.log.Debug("page loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("page", page),
		zap.Int("messages", len(result.Result)),
		zap.Bool("has_next", result.PaginationInfo.HasNext),
		zap.Bool("shared", shared))

	if replace {
		p.list.Replace(result.Result)
		return len(result.Result), nil
	}
	return p.list.Append(result.Result), nil
}
