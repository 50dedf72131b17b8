package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitastack/aita-fusion/internal/models"
)

func trainedClassifier(t *testing.T) (*Classifier, models.ModelReport) {
	t.Helper()
	c := NewClassifier(nil, NewMemoryStore(), DefaultClassifierParams(), time.Second)
	report, err := c.Train(context.Background(), DefaultClassifierCorpus(), 42)
	require.NoError(t, err)
	return c, report
}

func TestClassifyWithoutModelIsUnavailable(t *testing.T) {
	c := NewClassifier(nil, NewMemoryStore(), DefaultClassifierParams(), time.Second)
	_, err := c.Classify(context.Background(), "botnet traffic")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
}

func TestClassifyEmptyText(t *testing.T) {
	c, _ := trainedClassifier(t)
	_, err := c.Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestClassifierTrainingFitsCorpus(t *testing.T) {
	_, report := trainedClassifier(t)
	assert.Equal(t, len(DefaultClassifierCorpus()), report.Samples)
	assert.GreaterOrEqual(t, report.Metrics["accuracy"], 0.9)
	assert.Greater(t, report.Metrics["log_loss"], 0.0)
}

func TestClassifyDistribution(t *testing.T) {
	c, _ := trainedClassifier(t)
	res, err := c.Classify(context.Background(), "Files encrypted by ransomware, ransom demanded in bitcoin")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryRansomware, res.Category)
	require.Len(t, res.Probabilities, len(models.Categories))

	sum, top := 0.0, 0.0
	for _, p := range res.Probabilities {
		sum += p
		if p > top {
			top = p
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, top, res.Confidence)

	botnet, err := c.Classify(context.Background(), "Botnet command and control server identified")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryBotnet, botnet.Category)
}

func TestClassifierIsReproducible(t *testing.T) {
	a, _ := trainedClassifier(t)
	b, _ := trainedClassifier(t)
	text := "Suspicious login page mimics the bank portal"
	ra, err := a.Classify(context.Background(), text)
	require.NoError(t, err)
	rb, err := b.Classify(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, ra.Probabilities, rb.Probabilities)
}

func TestLoadClassifierCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	content := `
examples:
  - text: "Mirai variant floods targets"
    category: ddos
  - text: "Invoice lure with macro"
    category: phishing
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	corpus, err := LoadClassifierCorpus(path)
	require.NoError(t, err)
	require.Len(t, corpus, 2)
	assert.Equal(t, models.CategoryDDoS, corpus[0].Category)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("examples:\n  - text: x\n    category: spam\n"), 0o600))
	_, err = LoadClassifierCorpus(bad)
	assert.Error(t, err)
}

func TestTokenizeAddsBigrams(t *testing.T) {
	assert.Equal(t, []string{"sql", "injection", "sql injection"}, tokenize("SQL injection!"))
}

func TestWithTimeoutExpires(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	_, err := withTimeout(context.Background(), 10*time.Millisecond, func() int {
		<-block
		return 1
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
