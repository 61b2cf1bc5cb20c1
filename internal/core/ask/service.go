package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soluris/lexrag/internal/core/generation"
	"github.com/soluris/lexrag/internal/core/retrieval"
	"github.com/soluris/lexrag/internal/platform/metrics"
)

// ユーザーに返す失敗時の文言（プロバイダの生のエラーは含めない）
const (
	msgNotConfigured = "⚠️ Clé API du service de génération (%s) non configurée. Ajoutez-la dans les variables d'environnement."
	msgProviderError = "Erreur du service de génération (%d). Veuillez réessayer."
	msgUnexpected    = "Une erreur inattendue est survenue lors de la génération de la réponse. Veuillez réessayer."
)

const (
	modeGrounded  = "grounded"
	modeNoContext = "no_context"
)

// Retriever は質問に関連するチャンクを返す
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) retrieval.Result
}

// Config は回答生成の設定
type Config struct {
	MaxContextChars int
	HistoryTurns    int
	MaxTokens       int
}

// Service は検索結果を根拠に回答を生成する
type Service struct {
	retriever Retriever
	provider  generation.Provider
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithAskLogger は Service にロガーを設定する
func WithAskLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics はメトリクスの記録先を設定する
func WithMetrics(m *metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService は新しいServiceを作成する
func NewService(retriever Retriever, provider generation.Provider, cfg Config, opts ...ServiceOption) *Service {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}

	svc := &Service{
		retriever: retriever,
		provider:  provider,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// ErrEmptyQuestion は質問文が空の場合に返されます
var ErrEmptyQuestion = errors.New("question is required")

// Ask は質問に回答する。
// 検索・生成の失敗は回答文として表現し、error は入力不正の場合だけ返す。
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	// 1. 検索
	res := s.retriever.Retrieve(ctx, retrieval.Query{
		Question:     question,
		Jurisdiction: req.Jurisdiction,
		LegalDomain:  req.LegalDomain,
	})
	answer := &Answer{
		Citations:  []Citation{},
		Confidence: res.Confidence,
		Degraded:   res.Degraded,
	}

	// 2. 指示文の選択
	system := KnowledgeOnlyPrompt
	mode := modeNoContext
	used := 0
	if len(res.Chunks) > 0 {
		var block string
		block, used = AssembleContext(res.Chunks, s.cfg.MaxContextChars)
		if skipped := len(res.Chunks) - used; skipped > 0 {
			s.logger.Warn("context entries skipped to stay within budget",
				"skipped", skipped,
				"limit", s.cfg.MaxContextChars,
			)
		}
		// 1件も載らなければ文脈なしの指示で答える
		if used > 0 {
			system = GroundedPrompt(block)
			mode = modeGrounded
			answer.Grounded = true
		}
	}

	s.logger.Info("generating answer",
		"mode", mode,
		"chunks", used,
		"confidence", res.Confidence,
		"degraded", res.Degraded,
	)

	// 3. 生成
	started := time.Now()
	resp, err := s.generate(ctx, generation.Request{
		System:    system,
		Messages:  buildMessages(req.History, question, s.cfg.HistoryTurns),
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		answer.Text = s.failureText(err)
		answer.Grounded = false
		s.metrics.Generation(mode, failureOutcome(err), time.Since(started), 0)
		s.logger.Error("answer generation failed", "mode", mode, "error", err)
		return answer, nil
	}
	s.metrics.Generation(mode, "ok", time.Since(started), resp.Tokens())

	// 4. 出典の解析。Verified は検索結果の有無だけで決める
	text, citations, err := ParseResponse(resp.Text)
	if err != nil {
		s.logger.Warn("citation block ignored", "error", err)
	}
	for i := range citations {
		citations[i].Verified = answer.Grounded
	}
	if citations != nil {
		answer.Citations = citations
	}

	answer.Text = text
	answer.Tokens = resp.Tokens()
	answer.ChunksUsed = used

	s.logger.Info("answer generated",
		"answerLength", len(text),
		"citations", len(answer.Citations),
		"tokens", answer.Tokens,
	)
	return answer, nil
}

// generate はプロバイダ内部のパニックもエラーとして扱う
func (s *Service) generate(ctx context.Context, req generation.Request) (resp generation.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation provider panicked: %v", r)
		}
	}()
	return s.provider.Generate(ctx, req)
}

func (s *Service) failureText(err error) string {
	var perr *generation.ProviderError
	switch {
	case errors.Is(err, generation.ErrNotConfigured):
		return fmt.Sprintf(msgNotConfigured, s.provider.Name())
	case errors.As(err, &perr):
		return fmt.Sprintf(msgProviderError, perr.Status)
	}
	return msgUnexpected
}

func failureOutcome(err error) string {
	var perr *generation.ProviderError
	switch {
	case errors.Is(err, generation.ErrNotConfigured):
		return "not_configured"
	case errors.As(err, &perr):
		return "provider_error"
	}
	return "failed"
}
