// Package classifier runs one classification request end to end: hashing,
// cache lookup, preprocessing, inference, ranking and persistence.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/logging"
	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
	"github.com/Brownie44l1/imagenet-api/internal/ranking"
	"github.com/Brownie44l1/imagenet-api/internal/repository"
)

// ErrStatsUnavailable is returned by Stats when no repository is configured.
var ErrStatsUnavailable = errors.New("statistics require a database")

// Inferer turns a serialized tensor into class probabilities.
type Inferer interface {
	Infer(ctx context.Context, tensor preprocess.TensorBuffer) (model.ProbabilityVector, error)
}

// Repository defines the persistence operations needed by the classifier.
type Repository interface {
	Save(ctx context.Context, log *repository.ClassificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.ClassificationLog, error)
	Aggregate(ctx context.Context) (*repository.Aggregation, error)
}

// Options wires the optional collaborators. Nil Cache or Repository disables
// that concern.
type Options struct {
	Cache      Cache
	Repository Repository
	CacheTTL   time.Duration
	Backend    string
	// ModelID namespaces hash-keyed cache entries so different models never
	// share results.
	ModelID string
	// MaxPixels bounds the decoded image size; zero uses
	// preprocess.DefaultMaxPixels.
	MaxPixels int
}

// Classification is the outcome of one request.
type Classification struct {
	RequestID string           `json:"request_id"`
	SHA256    string           `json:"sha256"`
	Cached    bool             `json:"cached"`
	Results   []ranking.Result `json:"results"`
	LatencyMs float64          `json:"latency_ms"`
	CreatedAt time.Time        `json:"created_at"`
}

// Text renders the results in the line format of the demo page.
func (c *Classification) Text() string {
	return ranking.Format(c.Results)
}

// Summary aggregates persisted classifications.
type Summary struct {
	TotalRequests         int64   `json:"total_requests"`
	AverageTopProbability float64 `json:"average_top_probability"`
	AverageLatencyMs      float64 `json:"average_latency_ms"`
}

// Classifier is safe for concurrent use; the labels and inferer it holds are
// read-only.
type Classifier struct {
	inferer   Inferer
	labels    model.Labels
	cache     Cache
	repo      Repository
	cacheTTL  time.Duration
	backend   string
	modelID   string
	maxPixels int
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a classifier.
func New(inferer Inferer, labels model.Labels, logger *zap.Logger, opts Options) *Classifier {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = "default"
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = preprocess.DefaultMaxPixels
	}
	return &Classifier{
		inferer:   inferer,
		labels:    labels,
		cache:     opts.Cache,
		repo:      opts.Repository,
		cacheTTL:  ttl,
		backend:   opts.Backend,
		modelID:   modelID,
		maxPixels: maxPixels,
		logger:    logger.Named("classifier"),
		now:       time.Now,
	}
}

// Classify runs the full pipeline on encoded image bytes.
func (uc *Classifier) Classify(ctx context.Context, image []byte) (*Classification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "classifier.classify", requestID)
	start := uc.now()

	sum := sha256.Sum256(image)
	hash := hex.EncodeToString(sum[:])

	if cached, ok := uc.lookupHash(ctx, opLogger, hash); ok {
		cached.RequestID = requestID
		cached.Cached = true
		cached.LatencyMs = msSince(uc.now(), start)
		cached.CreatedAt = uc.now().UTC()
		opLogger.Debug("served from cache", zap.String("sha256", hash))
		uc.record(ctx, opLogger, cached, false)
		return cached, nil
	}

	tensor, err := preprocess.ImageToTensorLimited(image, model.InputWidth, model.InputHeight, uc.maxPixels)
	if err != nil {
		wrapped := logging.ForImage("classifier.preprocess", requestID, hash, err)
		opLogger.Info("rejected image", zap.Error(err), zap.Int("bytes", len(image)))
		return nil, wrapped
	}

	probs, err := uc.inferer.Infer(ctx, tensor)
	if err != nil {
		wrapped := logging.ForImage("classifier.infer", requestID, hash, err)
		opLogger.Error("inference failed", zap.Object("failure", wrapped))
		return nil, wrapped
	}

	result := &Classification{
		RequestID: requestID,
		SHA256:    hash,
		Results:   ranking.TopK(probs, uc.labels, ranking.DefaultTopK),
		LatencyMs: msSince(uc.now(), start),
		CreatedAt: uc.now().UTC(),
	}
	top := result.Results[0]
	opLogger.Info("classified image",
		zap.Uint32("class_index", top.ClassIndex),
		zap.String("label", top.Label),
		zap.Float32("probability", top.Probability),
		zap.Float64("latency_ms", result.LatencyMs))

	uc.record(ctx, opLogger, result, true)
	return result, nil
}

// GetResult returns a previous classification by request id.
func (uc *Classifier) GetResult(ctx context.Context, requestID string) (*Classification, error) {
	opLogger := logging.WithOperation(uc.logger, "classifier.get_result", requestID)

	if uc.cache != nil {
		value, err := uc.cache.Get(ctx, requestKey(requestID))
		switch {
		case err == nil:
			var cached Classification
			jerr := json.Unmarshal(value, &cached)
			if jerr == nil {
				return &cached, nil
			}
			opLogger.Warn("failed to decode cached result", zap.Error(jerr))
		case !IsMiss(err):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, logging.NewOperationError("classifier.get_result", requestID, repository.ErrNotFound)
	}
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, logging.NewOperationError("classifier.get_result", requestID, err)
	}
	result, err := fromLog(log)
	if err != nil {
		return nil, logging.NewOperationError("classifier.get_result", requestID, err)
	}
	return result, nil
}

// Stats aggregates persisted classifications.
func (uc *Classifier) Stats(ctx context.Context) (*Summary, error) {
	if uc.repo == nil {
		return nil, ErrStatsUnavailable
	}
	agg, err := uc.repo.Aggregate(ctx)
	if err != nil {
		return nil, logging.NewOperationError("classifier.stats", "", err)
	}
	return &Summary{
		TotalRequests:         agg.TotalCount,
		AverageTopProbability: agg.AverageTopProbability,
		AverageLatencyMs:      agg.AverageLatencyMs,
	}, nil
}

func (uc *Classifier) lookupHash(ctx context.Context, opLogger *zap.Logger, hash string) (*Classification, bool) {
	if uc.cache == nil {
		return nil, false
	}
	value, err := uc.cache.Get(ctx, uc.hashKey(hash))
	if err != nil {
		if !IsMiss(err) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}
	var cached Classification
	if err := json.Unmarshal(value, &cached); err != nil || len(cached.Results) == 0 {
		opLogger.Warn("discarding malformed cache entry", zap.Error(err))
		return nil, false
	}
	return &cached, true
}

// record writes result to the cache and the repository. Failures are logged
// and never fail the request.
func (uc *Classifier) record(ctx context.Context, opLogger *zap.Logger, result *Classification, storeHash bool) {
	if uc.cache != nil {
		if serialized, err := json.Marshal(result); err != nil {
			opLogger.Error("failed to serialize result", zap.Error(err))
		} else {
			if err := uc.cache.Set(ctx, requestKey(result.RequestID), serialized, uc.cacheTTL); err != nil {
				opLogger.Warn("failed to cache result", zap.Error(err))
			}
			if storeHash {
				if err := uc.cache.Set(ctx, uc.hashKey(result.SHA256), serialized, uc.cacheTTL); err != nil {
					opLogger.Warn("failed to cache result by hash", zap.Error(err))
				}
			}
		}
	}

	if uc.repo != nil {
		log, err := toLog(result, uc.backend)
		if err != nil {
			opLogger.Error("failed to build classification log", zap.Error(err))
			return
		}
		if err := uc.repo.Save(ctx, log); err != nil {
			opLogger.Warn("failed to persist classification", zap.Error(err))
		}
	}
}

func toLog(result *Classification, backend string) (*repository.ClassificationLog, error) {
	encoded, err := json.Marshal(result.Results)
	if err != nil {
		return nil, err
	}
	top := result.Results[0]
	return &repository.ClassificationLog{
		RequestID:      result.RequestID,
		SHA256:         result.SHA256,
		Backend:        backend,
		TopClass:       top.ClassIndex,
		TopLabel:       top.Label,
		TopProbability: top.Probability,
		Results:        string(encoded),
		LatencyMs:      result.LatencyMs,
		CreatedAt:      result.CreatedAt,
	}, nil
}

func fromLog(log *repository.ClassificationLog) (*Classification, error) {
	var results []ranking.Result
	if err := json.Unmarshal([]byte(log.Results), &results); err != nil {
		return nil, fmt.Errorf("failed to decode stored results: %w", err)
	}
	return &Classification{
		RequestID: log.RequestID,
		SHA256:    log.SHA256,
		Results:   results,
		LatencyMs: log.LatencyMs,
		CreatedAt: log.CreatedAt,
	}, nil
}

func msSince(now, start time.Time) float64 {
	return float64(now.Sub(start).Microseconds()) / 1000
}
