package features

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"

	"go.uber.org/zap"

	"guardbot/internal/models"
)

// Version identifies the feature vector layout. The trained classifier
// and scaler are fitted against exactly one version; the scorer
// refuses artifacts built for any other.
const Version = 1

// ScalarCount is the number of scalar features appended after the two
// embedding blocks. The total vector length is 2*dimensions +
// ScalarCount.
const ScalarCount = 16

// Unknown marks a structural feature that was not observed, as opposed
// to observed-false. The scorer learns a separate response for it.
var Unknown = math.NaN()

var mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]{3,}`)

// Input is everything known about one (user, chat, message) triple at
// extraction time. Embedding and ImageEmbedding may be precomputed;
// pointer fields are nil when the attribute was not observed.
type Input struct {
	UserID           int64
	ChatID           int64
	Text             string
	Embedding        []float32
	ImageEmbedding   []float32
	IsForwarded      bool
	ReplyToMessageID int64

	ForwardedFromChannel *bool
	HasVideo             *bool
	HasDocument          *bool
	HasPhoto             *bool
	HasLink              *bool
	EntityCount          *int
}

// Embedder produces the text embedding when Input doesn't carry one.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// UserSource is the slice of the user repository extraction reads.
type UserSource interface {
	GetUserByID(id int64) (*models.User, error)
	FirstSeen(userID int64) (*time.Time, error)
}

// HistorySource supplies the user's labeled message counts.
type HistorySource interface {
	SpamCounts(userID int64) (spam, ham int64, err error)
}

// RatingSource supplies the user's current aggregate rating across
// the chat's group, so reputation earned in a sibling chat counts.
type RatingSource interface {
	AggregateGroup(userID, chatID int64) (int64, error)
}

// Extractor builds the fixed-order feature vector. The construction
// order is a strict contract with the trained artifacts: text
// embedding, image embedding (zeros when absent) plus has-image flag,
// then the scalar block. Changing the order or length means
// retraining.
type Extractor struct {
	embedder Embedder
	users    UserSource
	history  HistorySource
	ratings  RatingSource
	logger   *zap.Logger
	now      func() time.Time
}

func NewExtractor(embedder Embedder, users UserSource, history HistorySource, ratings RatingSource, logger *zap.Logger) *Extractor {
	return &Extractor{
		embedder: embedder,
		users:    users,
		history:  history,
		ratings:  ratings,
		logger:   logger,
		now:      time.Now,
	}
}

// VectorLen is the exact length of every vector Extract returns.
func (e *Extractor) VectorLen() int {
	return 2*e.embedder.Dimensions() + ScalarCount
}

// Extract returns the feature vector, or an error when no vector can
// be produced: missing embedding, unknown user, or a failed history
// query. Callers must treat the error as "cannot score, do not block".
func (e *Extractor) Extract(ctx context.Context, in Input) ([]float64, error) {
	dims := e.embedder.Dimensions()

	textEmb := in.Embedding
	if textEmb == nil {
		var err error
		textEmb, err = e.embedder.EmbedText(ctx, in.Text)
		if err != nil {
			return nil, fmt.Errorf("no embedding for message: %w", err)
		}
	}
	if len(textEmb) != dims {
		return nil, fmt.Errorf("text embedding has %d dimensions, expected %d", len(textEmb), dims)
	}
	if in.ImageEmbedding != nil && len(in.ImageEmbedding) != dims {
		return nil, fmt.Errorf("image embedding has %d dimensions, expected %d", len(in.ImageEmbedding), dims)
	}

	user, err := e.users.GetUserByID(in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", in.UserID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d does not exist", in.UserID)
	}

	firstSeen, err := e.users.FirstSeen(in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve first-seen for user %d: %w", in.UserID, err)
	}
	ageSeconds := 0.0
	if firstSeen != nil {
		ageSeconds = e.now().Sub(*firstSeen).Seconds()
	}

	rating, err := e.ratings.AggregateGroup(in.UserID, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate rating for user %d: %w", in.UserID, err)
	}

	spamCount, hamCount, err := e.history.SpamCounts(in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count labeled messages for user %d: %w", in.UserID, err)
	}

	vec := make([]float64, 0, e.VectorLen())
	for _, v := range textEmb {
		vec = append(vec, float64(v))
	}

	hasImage := 0.0
	if in.ImageEmbedding != nil {
		hasImage = 1.0
		for _, v := range in.ImageEmbedding {
			vec = append(vec, float64(v))
		}
	} else {
		vec = append(vec, make([]float64, dims)...)
	}

	vec = append(vec,
		hasImage,
		float64(rating),
		ageSeconds,
		float64(in.ChatID),
		float64(len(in.Text)),
		float64(spamCount),
		float64(hamCount),
		boolFeature(in.IsForwarded),
		float64(in.ReplyToMessageID),
		boolFeature(mentionPattern.MatchString(in.Text)),
		optionalBool(in.HasVideo),
		optionalBool(in.HasDocument),
		optionalBool(in.HasPhoto),
		optionalBool(in.ForwardedFromChannel),
		optionalBool(in.HasLink),
		optionalInt(in.EntityCount),
	)

	return vec, nil
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func optionalBool(b *bool) float64 {
	if b == nil {
		return Unknown
	}
	return boolFeature(*b)
}

func optionalInt(n *int) float64 {
	if n == nil {
		return Unknown
	}
	return float64(*n)
}
