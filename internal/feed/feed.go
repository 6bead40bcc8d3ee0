// Package feed pages through a remote entity store's change feed and keeps
// the consumer's cursor in the journal.
//
// A call to GetChanges resumes from the last committed token, yields pages as
// they arrive, and commits the terminal token only once the whole page
// sequence has been consumed. Anything short of that (a fetch error, a
// cancelled context, the consumer breaking out of the loop) leaves the journal
// untouched, so the next call redelivers the same items.
package feed

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/types"
)

type Request struct {
	EntityType   string   `json:"entityType"`
	Columns      []string `json:"columns"`
	PageSize     int      `json:"pageSize"`
	PageNumber   int      `json:"pageNumber"`
	PagingCookie string   `json:"pagingCookie,omitempty"`
	SinceToken   string   `json:"sinceToken,omitempty"`
}

type Response struct {
	Items         []types.ChangedItem `json:"items"`
	MoreRecords   bool                `json:"moreRecords"`
	PagingCookie  string              `json:"pagingCookie,omitempty"`
	TerminalToken string              `json:"terminalToken"`
}

// Source is the change feed RPC.
type Source interface {
	RetrieveChanges(ctx context.Context, req Request) (Response, error)
}

type CursorStore interface {
	Token(ctx context.Context, syncKey, entityType string) (string, bool, error)
	SaveToken(ctx context.Context, syncKey, entityType, token string) error
}

type Client struct {
	source  Source
	cursors CursorStore
	logger  *zap.Logger
}

func NewClient(source Source, cursors CursorStore, logger *zap.Logger) *Client {
	return &Client{source: source, cursors: cursors, logger: logger}
}

// GetChanges returns the pages changed since the committed cursor. The
// sequence ends with at most one non-nil error; no page follows an error.
func (c *Client) GetChanges(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) iter.Seq2[types.Page, error] {
	return func(yield func(types.Page, error) bool) {
		since, found, err := c.cursors.Token(ctx, syncKey, entityType)
		if err != nil {
			yield(types.Page{}, err)
			return
		}

		log := c.logger.With(zap.String("sync_key", syncKey), zap.String("entity_type", entityType))
		log.Debug("Retrieving changes",
			zap.Bool("resuming", found),
			zap.String("since", since),
			zap.Int("page_size", pageSize))

		req := Request{
			EntityType: entityType,
			Columns:    columns,
			PageSize:   pageSize,
			PageNumber: 1,
			SinceToken: since,
		}

		var terminal string
		total := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(types.Page{}, err)
				return
			}

			resp, err := c.source.RetrieveChanges(ctx, req)
			if err != nil {
				log.Warn("Change page fetch failed, cursor left unchanged",
					zap.Int("page", req.PageNumber),
					zap.Error(err))
				yield(types.Page{}, fmt.Errorf("fetch %s page %d: %w", entityType, req.PageNumber, err))
				return
			}
			terminal = resp.TerminalToken
			total += len(resp.Items)

			if !yield(types.Page{Number: req.PageNumber, Items: resp.Items, Last: !resp.MoreRecords}, nil) {
				log.Debug("Consumer stopped early, cursor left unchanged", zap.Int("page", req.PageNumber))
				return
			}
			if !resp.MoreRecords {
				break
			}
			req.PageNumber++
			req.PagingCookie = resp.PagingCookie
		}

		if terminal == "" {
			log.Warn("Feed returned no terminal token, cursor left unchanged", zap.Int("items", total))
			return
		}
		if found && terminal == since {
			log.Debug("Cursor unchanged", zap.Int("pages", req.PageNumber))
			return
		}
		if err := c.cursors.SaveToken(ctx, syncKey, entityType, terminal); err != nil {
			yield(types.Page{}, err)
			return
		}
		log.Info("Change sequence committed",
			zap.Int("pages", req.PageNumber),
			zap.Int("items", total),
			zap.String("token", terminal))
	}
}

// ResetToCurrent drains the feed without applying anything, moving the cursor
// to the feed's current position. It returns the number of items skipped.
func (c *Client) ResetToCurrent(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) (int, error) {
	c.logger.Info("Resetting cursor to current",
		zap.String("sync_key", syncKey),
		zap.String("entity_type", entityType))

	skipped := 0
	for page, err := range c.GetChanges(ctx, syncKey, entityType, columns, pageSize) {
		if err != nil {
			return skipped, err
		}
		skipped += len(page.Items)
	}
	return skipped, nil
}
