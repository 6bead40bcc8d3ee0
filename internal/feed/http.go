package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/types"
)

// HTTPSource calls the remote store's change feed endpoint, POST {url}/changes.
type HTTPSource struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewHTTPSource(cfg config.HTTPFeed, logger *zap.Logger) *HTTPSource {
	logger.Info("Creating HTTP change feed source", zap.String("url", cfg.URL))
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		logger:  logger,
	}
}

func (s *HTTPSource) RetrieveChanges(ctx context.Context, req Request) (Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/changes", bytes.NewReader(b))
	if err != nil {
		return Response{}, fmt.Errorf("build change feed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, types.TransientIOError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("Change feed request failed",
			zap.String("entity_type", req.EntityType),
			zap.Int("page", req.PageNumber),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Response{}, types.TransientIOError(fmt.Errorf("status %d", resp.StatusCode))
		}
		return Response{}, types.FeedRequestError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A truncated body may decode on retry; a malformed one never will.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, types.TransientIOError(fmt.Errorf("decode change feed response: %w", err))
		}
		return Response{}, types.FeedRequestError(resp.StatusCode, "decode change feed response: "+err.Error())
	}

	s.logger.Debug("Change page retrieved",
		zap.String("entity_type", req.EntityType),
		zap.Int("page", req.PageNumber),
		zap.Int("items", len(out.Items)),
		zap.Bool("more_records", out.MoreRecords),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}
