package protocol

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// personalAttributeOrder ranks the known personal attributes.
var personalAttributeOrder = map[string]int{
	"FIRSTNAME":         0,
	"MIDDLENAME":        1,
	"LASTNAME":          2,
	"GENDER":            3,
	"NAMEATBIRTH":       4,
	"DATEOFBIRTH":       5,
	"DAYOFBIRTH":        6,
	"MONTHOFBIRTH":      7,
	"YEAROFBIRTH":       8,
	"PLACEOFBIRTH":      9,
	"ADDRESS":           10,
	"PLZ":               11,
	"CITY":              12,
	"SUBURB":            13,
	"STATE":             14,
	"STREET":            15,
	"COUNTRY":           16,
	"INSURANCENUMBER":   17,
	"REGISTRATION_DATE": 18,
}

// attributeNameLess orders two known attributes by rank and falls back to
// string order when either name is unknown.
func attributeNameLess(a, b string) bool {
	ra, okA := personalAttributeOrder[a]
	rb, okB := personalAttributeOrder[b]
	if okA && okB {
		return ra < rb
	}
	return a < b
}

const (
	secretLength  = 32
	secretLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// WishService creates and serves the encoding wishes of escalated pairs.
type WishService struct {
	wishes store.WishStore
	logger ectologger.Logger
	config Config
}

// NewWishService creates a wish service.
func NewWishService(wishes store.WishStore, logger ectologger.Logger, config Config) *WishService {
	return &WishService{wishes: wishes, logger: logger, config: config}
}

// CreateEncodingWishes replaces the project's wishes with two wishes per
// uncertain pair. Both wishes of a pair share its order id and secret.
func (w *WishService) CreateEncodingWishes(ctx context.Context, project *models.LinkageProject, pairs []*models.RecordPair) ([]*models.EncodingWish, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.WishService.CreateEncodingWishes")
	defer span.End()

	config, err := w.config.ForProject(project)
	if err != nil {
		return nil, err
	}
	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":  project.ID,
		"wish_method": config.WishMethod,
		"count":       len(pairs),
	})

	wishes := make([]*models.EncodingWish, 0, 2*len(pairs))
	for orderID, p := range pairs {
		secret, err := recordSecret(config, p)
		if err != nil {
			return nil, err
		}
		for _, id := range []models.RecordID{p.LeftRecordID, p.RightRecordID} {
			target := id
			target.BlockID = p.PairID
			wishes = append(wishes, &models.EncodingWish{
				ProjectID:      project.ID,
				EncodingID:     models.EncodingID{Method: config.WishMethod, Project: project.ID},
				TargetRecordID: target,
				RecordSecret:   secret,
				OrderID:        int64(orderID),
			})
		}
	}

	if err := w.wishes.DeleteWishes(ctx, project.ID); err != nil {
		log.WithError(err).Error("Failed to delete previous encoding wishes")
		return nil, err
	}
	if err := w.wishes.ReplaceWishes(ctx, project.ID, wishes); err != nil {
		log.WithError(err).Error("Failed to store encoding wishes")
		return nil, err
	}

	metrics.WishesCreatedTotal.WithLabelValues(config.WishMethod).Add(float64(len(wishes)))
	log.Info("Created encoding wishes for uncertain links")
	return wishes, nil
}

// recordSecret is the attribute selection for selective plaintext wishes,
// otherwise a random token.
func recordSecret(config Config, p *models.RecordPair) (string, error) {
	if strings.Contains(config.WishMethod, SelectivePlaintextMethod) {
		return plaintextSelection(config.MinAttributeSimilarity, p.AttributeSimilarities), nil
	}
	return randomSecret()
}

// plaintextSelection lists the attributes that are neither certain nor
// clearly different.
func plaintextSelection(minSimilarity float64, similarities map[string]float64) string {
	names := make([]string, 0, len(similarities))
	for name := range similarities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return attributeNameLess(names[i], names[j]) })

	var sb strings.Builder
	for _, name := range names {
		sim := similarities[name]
		if sim > minSimilarity && sim < 1 {
			sb.WriteString(name)
			sb.WriteString(AttributeSeparator)
		}
	}
	return sb.String()
}

func randomSecret() (string, error) {
	max := big.NewInt(int64(len(secretLetters)))
	b := make([]byte, secretLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = secretLetters[n.Int64()]
	}
	return string(b), nil
}

// DeleteEncodingWishes drops all wishes of the project.
func (w *WishService) DeleteEncodingWishes(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "protocol.WishService.DeleteEncodingWishes")
	defer span.End()

	return w.wishes.DeleteWishes(ctx, projectID)
}

// ListEncodingWishes returns up to limit wishes in order id order. A limit
// below one returns all.
func (w *WishService) ListEncodingWishes(ctx context.Context, projectID string, limit int) ([]*models.EncodingWish, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.WishService.ListEncodingWishes")
	defer span.End()

	wishes, err := w.wishes.ListWishes(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(wishes, func(i, j int) bool { return wishes[i].OrderID < wishes[j].OrderID })
	return wishes, nil
}
