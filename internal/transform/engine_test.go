package transform

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelFunc func(ctx context.Context, system, user, modelID string) (string, error)

func (f modelFunc) Invoke(ctx context.Context, system, user, modelID string) (string, error) {
	return f(ctx, system, user, modelID)
}

type memStore struct {
	mu       sync.Mutex
	insights []*models.Insight
	err      error
}

func (s *memStore) CreateInsight(_ context.Context, in *models.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.insights = append(s.insights, in)
	return nil
}

func (s *memStore) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, in := range s.insights {
		out = append(out, in.Type)
	}
	return out
}

func transformations(titles ...string) []*models.Transformation {
	ts := make([]*models.Transformation, len(titles))
	for i, title := range titles {
		ts[i] = &models.Transformation{ID: strings.ToLower(title), Title: title, Prompt: "Do " + title}
	}
	return ts
}

var source = &models.Source{ID: "src1", FullText: "The quarterly report."}

func TestApply_isolatesFailure(t *testing.T) {
	store := &memStore{}
	model := modelFunc(func(_ context.Context, system, user, _ string) (string, error) {
		if strings.Contains(system, "Broken") {
			return "", errors.New("provider error")
		}
		return "out:" + system, nil
	})
	e := NewEngine(model, store, Config{Concurrency: 2})

	batch := e.Apply(context.Background(), source, transformations("Summary", "Broken", "Topics"))

	require.Len(t, batch.Results, 3)
	failed := batch.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "Broken", failed[0].Transformation.Title)
	assert.True(t, errors.Is(failed[0].Err, models.ErrTransformation))
	assert.ElementsMatch(t, []string{"Summary", "Topics"}, store.types())
	assert.Len(t, batch.Insights(), 2)
	assert.Equal(t, "Summary", batch.Results[0].Insight.Type)
	assert.Equal(t, "src1", batch.Results[2].Insight.SourceID)
	assert.Error(t, batch.Err())
}

func TestApply_recoversPanickingUnit(t *testing.T) {
	store := &memStore{}
	model := modelFunc(func(_ context.Context, system, _ string, _ string) (string, error) {
		if strings.Contains(system, "Crash") {
			panic("nil map write")
		}
		return "ok", nil
	})
	e := NewEngine(model, store, Config{Concurrency: 2})

	batch := e.Apply(context.Background(), source, transformations("Summary", "Crash"))

	failed := batch.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "Crash", failed[0].Transformation.Title)
	assert.Nil(t, failed[0].Insight)
	assert.True(t, errors.Is(failed[0].Err, models.ErrTransformation))
	assert.Contains(t, failed[0].Err.Error(), "nil map write")
	assert.Equal(t, []string{"Summary"}, store.types())
}

func TestApply_timeoutIsUnitFailure(t *testing.T) {
	store := &memStore{}
	model := modelFunc(func(ctx context.Context, system, _, _ string) (string, error) {
		if strings.Contains(system, "Slow") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "done", nil
	})
	e := NewEngine(model, store, Config{Concurrency: 3, Timeout: 50 * time.Millisecond})

	start := time.Now()
	batch := e.Apply(context.Background(), source, transformations("Summary", "Slow", "Quotes"))

	assert.Less(t, time.Since(start), 5*time.Second)
	failed := batch.Failed()
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, context.DeadlineExceeded))
	assert.Len(t, store.types(), 2)
}

func TestApply_boundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	model := modelFunc(func(context.Context, string, string, string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	})
	e := NewEngine(model, &memStore{}, Config{Concurrency: 2})

	batch := e.Apply(context.Background(), source, transformations("A", "B", "C", "D", "E"))

	assert.Empty(t, batch.Failed())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestApply_promptComposition(t *testing.T) {
	var gotSystem, gotUser, gotModel string
	model := modelFunc(func(_ context.Context, system, user, modelID string) (string, error) {
		gotSystem, gotUser, gotModel = system, user, modelID
		return "  result  ", nil
	})
	e := NewEngine(model, &memStore{}, Config{Instructions: "Answer in English.", ModelID: "gpt-4o-mini"})

	batch := e.Apply(context.Background(), source, transformations("Summary"))

	require.Empty(t, batch.Failed())
	assert.Equal(t, "Answer in English.\n\nDo Summary", gotSystem)
	assert.Equal(t, source.FullText, gotUser)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}

func TestApply_persistenceFailure(t *testing.T) {
	model := modelFunc(func(context.Context, string, string, string) (string, error) { return "ok", nil })
	e := NewEngine(model, &memStore{err: errors.New("disk full")}, Config{})

	batch := e.Apply(context.Background(), source, transformations("Summary"))

	require.Len(t, batch.Failed(), 1)
	assert.Contains(t, batch.Failed()[0].Err.Error(), "disk full")
	assert.Nil(t, batch.Results[0].Insight)
}

func TestApply_emptyOutputFails(t *testing.T) {
	model := modelFunc(func(context.Context, string, string, string) (string, error) { return "", nil })
	batch := NewEngine(model, &memStore{}, Config{}).Apply(context.Background(), source, transformations("Summary"))
	assert.Len(t, batch.Failed(), 1)
}

func TestApply_cancelledContext(t *testing.T) {
	var calls atomic.Int32
	model := modelFunc(func(context.Context, string, string, string) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := NewEngine(model, &memStore{}, Config{}).Apply(ctx, source, transformations("A", "B"))

	assert.Len(t, batch.Failed(), 2)
	assert.Zero(t, calls.Load())
}

func TestApply_mapReduceLongText(t *testing.T) {
	var mu sync.Mutex
	var users []string
	model := modelFunc(func(_ context.Context, system, user, _ string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		users = append(users, user)
		if strings.Contains(system, reducePrompt) {
			return "combined", nil
		}
		return "partial", nil
	})
	c, err := chunker.New(5, 1, chunker.WithTokenCounter(chunker.Words))
	require.NoError(t, err)
	store := &memStore{}
	e := NewEngine(model, store, Config{}, WithChunker(c))

	long := &models.Source{ID: "long", FullText: "one two three four five.\n\nsix seven eight nine ten.\n\neleven twelve thirteen."}
	batch := e.Apply(context.Background(), long, transformations("Summary"))

	require.Empty(t, batch.Failed())
	assert.Equal(t, "combined", batch.Results[0].Insight.Content)
	require.Greater(t, len(users), 2)
	assert.Contains(t, users[len(users)-1], "partial\n---\npartial")

	users = nil
	short := &models.Source{ID: "short", FullText: "one two three"}
	batch = e.Apply(context.Background(), short, transformations("Summary"))
	require.Empty(t, batch.Failed())
	assert.Equal(t, []string{"one two three"}, users)
}

func TestApply_noTransformations(t *testing.T) {
	batch := NewEngine(nil, &memStore{}, Config{}).Apply(context.Background(), source, nil)
	assert.Empty(t, batch.Results)
	assert.NoError(t, batch.Err())
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "Summarize", SystemPrompt("", "Summarize"))
	assert.Equal(t, "Be brief.\n\nSummarize", SystemPrompt(" Be brief. \n", "Summarize"))
}
